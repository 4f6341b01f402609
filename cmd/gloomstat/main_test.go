package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	flags "github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/memstore"
)

func runArgs(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	out = &buf
	t.Cleanup(func() { out = os.Stdout })

	_, err := newParser().ParseArgs(args)
	require.NoError(t, err)
	return buf.String()
}

func aliceSnapshot(t *testing.T) *gloomtier.Snapshot {
	t.Helper()
	ctx := context.Background()
	f, err := gloomtier.NewFilter(gloomtier.FilterConfig{SizeBits: 1000, HashCount: 3, Key: "bf"}, memstore.New(1000))
	require.NoError(t, err)
	require.NoError(t, f.Add(ctx, "alice"))
	s, err := f.Snapshot(ctx)
	require.NoError(t, err)
	return s
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	s := aliceSnapshot(t)
	path := filepath.Join(t.TempDir(), "bf.snap.zst")

	n, err := writeSnapshotFile(path, s)
	require.NoError(t, err)
	require.Positive(t, n)
	require.Less(t, n, int64(len(s.Bits)))

	got, err := readSnapshotFile(path)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestReadSnapshotFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o600))
	_, err := readSnapshotFile(path)
	require.Error(t, err)
}

func TestImportStatsExport(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.zst")
	_, err := writeSnapshotFile(in, aliceSnapshot(t))
	require.NoError(t, err)

	common := []string{
		"--bloom.size=1000", "--bloom.hashes=3", "--bloom.key=bf",
		"--bitstore=leveldb", "--leveldb.path=" + filepath.Join(dir, "bits"),
	}

	res := runArgs(t, append(common, "import", in)...)
	require.Contains(t, res, "merged")

	res = runArgs(t, append(common, "stats", "--json")...)
	var stats gloomtier.FilterStats
	require.NoError(t, json.Unmarshal([]byte(res), &stats))
	require.Equal(t, uint64(3), stats.SetBits)
	require.Equal(t, uint64(1000), stats.SizeBits)

	exported := filepath.Join(dir, "out.zst")
	res = runArgs(t, append(common, "export", exported)...)
	require.Contains(t, res, "3 bits set")

	got, err := readSnapshotFile(exported)
	require.NoError(t, err)
	require.Equal(t, aliceSnapshot(t).Bits, got.Bits)
}

func TestImportParamsMismatch(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.zst")
	_, err := writeSnapshotFile(in, aliceSnapshot(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	out = &buf
	defer func() { out = os.Stdout }()

	parser := newParser()
	parser.Options &^= flags.PrintErrors
	_, err = parser.ParseArgs([]string{
		"--bloom.size=2000", "--bloom.hashes=3", "--bloom.key=bf",
		"--bitstore=memory", "import", in,
	})
	require.ErrorIs(t, err, gloomtier.ErrParamsMismatch)
}

func TestParams(t *testing.T) {
	res := runArgs(t, "params", "--items=1000", "--fp=0.01")
	require.Contains(t, res, "m=9586 bits")
	require.Contains(t, res, "k=7")
	require.Contains(t, res, "bits-and-blooms/bloom suggests m=9586 k=7")
}
