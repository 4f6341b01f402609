// Package gloomtier provides a tiered membership checker: a Bloom filter whose
// bit array lives in a shared, persistent store, in front of an exact but
// expensive authoritative store.
//
// A bloom filter is a space-efficient probabilistic data structure that tests
// whether an element is a member of a set. False positive matches are possible,
// but false negatives are not – if the filter says an element is not present,
// it definitely is not. If it says an element might be present, it could be a
// false positive.
//
// # Architecture
//
// [HashScheme] derives k bit offsets per value. Offset i is the SHA-256
// digest of the UTF-8 string "{i}:{value}", read as a big-endian integer,
// modulo m. The encoding is fixed so every process sharing a bit array,
// whatever it is written in, computes the same offsets.
//
// [Filter] owns a HashScheme and a [BitStore]. It never holds bits itself:
// every Add issues k SetBit calls and every MightContain issues GetBit calls
// until the first zero bit.
//
// [Checker] puts the filter in front of an [AuthoritativeStore]. A value the
// filter proves absent is reported available without touching the
// authoritative store (the fast path). Anything else is decided by the
// authoritative store (the slow path), and the result records whether the
// filter produced a false positive.
//
// [Seeder] loads an existing dataset into both stores before traffic is
// served.
//
// # Stores
//
// Three BitStore implementations are provided in sub-packages:
//
//   - redisstore keeps the array in a Redis bitmap (SETBIT/GETBIT) and is
//     the store to use when several processes share one filter.
//   - leveldbstore keeps the array in a local LevelDB database.
//   - memstore keeps the array in process memory; it is not persistent and
//     is meant for tests and development.
//
// All three use the Redis bit layout (offset o is bit 7-o%8 of byte o/8), so
// a [Snapshot] taken from one can be restored into another.
//
// # Choosing Parameters
//
// Use [OptimalParams] with the expected number of values and the desired
// false positive rate:
//
//	m, k, _ := gloomtier.OptimalParams(1_000_000, 0.01)
//
// m and k are fixed for the lifetime of a bit array. Changing either means
// building a new array under a new key and seeding it again.
//
// # False Positive Rate
//
// For n values in m bits with k positions each, the false positive rate is
// approximately
//
//	(1 - e^(-kn/m))^k
//
// [EstimateFalsePositiveRate] computes it from n; [Filter.Stats] estimates it
// from the bits actually set.
//
// # Thread Safety
//
// Filter, Checker and Seeder are safe for concurrent use provided the stores
// are. No lock is held across store calls. Each SetBit is atomic at the store,
// and setting a bit twice is harmless, so concurrent registrations of the
// same value both return without error; the authoritative store decides
// which one created it.
//
// # Errors
//
// A failed store call is returned wrapped in [ErrStoreUnavailable]; it is
// never read as a zero bit. [ErrConflict] from the authoritative store means
// the value is already taken and is not treated as a failure. Empty
// identifiers are rejected with [ErrInvalidInput] before any store is used.
//
// # References
//
//   - Space/Time Trade-offs in Hash Coding with Allowable Errors (Bloom, 1970)
//   - Bloom filter calculator formulas: https://hur.st/bloomfilter/
//   - Redis bitmaps: https://redis.io/docs/latest/develop/data-types/bitmaps/
package gloomtier
