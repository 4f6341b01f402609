// Package redisstore keeps bit arrays in Redis bitmaps.
//
// Every bit operation is a single SETBIT or GETBIT round trip. Redis executes
// commands one at a time, so concurrent SetBit calls on one offset never lose
// an update, and the bitmap survives process restarts as long as the Redis
// server persists its data.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MaxBits is the largest bitmap Redis can hold (512 MiB).
const MaxBits = uint64(1) << 32

// ErrOffsetRange is returned for offsets Redis cannot address.
var ErrOffsetRange = errors.New("redisstore: offset out of range")

// Config holds the connection parameters. Zero durations and sizes fall back
// to the go-redis defaults.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is a BitStore backed by a pooled Redis client. It is safe for
// concurrent use.
type Store struct {
	client redis.UniversalClient
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: ping %s: %w", cfg.Addr, err)
	}
	log.Infof("Connected to Redis at %s (db %d)", cfg.Addr, cfg.DB)

	return &Store{client: client}, nil
}

// New wraps an existing client. The caller keeps ownership of the client's
// lifetime unless it calls Close on the Store.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func checkOffset(offset uint64) error {
	if offset >= MaxBits {
		return fmt.Errorf("%w: %d >= %d", ErrOffsetRange, offset, MaxBits)
	}
	return nil
}

// SetBit sets the bit at offset of key.
func (s *Store) SetBit(ctx context.Context, key string, offset uint64) error {
	if err := checkOffset(offset); err != nil {
		return err
	}
	return s.client.SetBit(ctx, key, int64(offset), 1).Err()
}

// GetBit reports whether the bit at offset of key is set.
func (s *Store) GetBit(ctx context.Context, key string, offset uint64) (bool, error) {
	if err := checkOffset(offset); err != nil {
		return false, err
	}
	v, err := s.client.GetBit(ctx, key, int64(offset)).Result()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Dump returns the raw bitmap of key. Redis stores bitmaps as strings in the
// same most-significant-bit-first layout the filter uses. A missing key dumps
// as an empty slice.
func (s *Store) Dump(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Merge ORs data into the bitmap of key. The data is written to a temporary
// key and combined with BITOP OR inside one MULTI/EXEC transaction, so SETBIT
// calls from other clients are never overwritten.
func (s *Store) Merge(ctx context.Context, key string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	// The hash tag keeps the temporary key in key's cluster slot.
	tmp := fmt.Sprintf("{%s}:merge:%s", key, uuid.NewString())
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tmp, data, 0)
		pipe.BitOpOr(ctx, key, key, tmp)
		pipe.Del(ctx, tmp)
		return nil
	})
	return err
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client and its connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
