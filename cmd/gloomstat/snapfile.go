package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/jcalabro/gloomtier"
)

// writeSnapshotFile stores s at path as a zstd-compressed snapshot. Mostly
// empty filters compress to a tiny fraction of their bit array.
func writeSnapshotFile(path string, s *gloomtier.Snapshot) (int64, error) {
	raw, err := s.MarshalBinary()
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		f.Close()
		return 0, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		f.Close()
		return 0, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return 0, fmt.Errorf("compressing snapshot: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	return info.Size(), f.Close()
}

// readSnapshotFile loads a snapshot written by writeSnapshotFile.
func readSnapshotFile(path string) (*gloomtier.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%s: decompressing snapshot: %w", path, err)
	}
	s, err := gloomtier.UnmarshalSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
