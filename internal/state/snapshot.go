// Package state implements the State Store: checksummed, optionally
// compressed captures of a module's opaque state, retained per
// configuration and garbage-collected once no transaction can see them.
package state

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/registry"
)

// CompressionKind identifies the (opaque to callers) codec used on a
// Snapshot's bytes.
type CompressionKind string

const (
	CompressionNone CompressionKind = "none"
	CompressionGzip CompressionKind = "gzip"
)

// compressionThreshold is the byte size above which Snapshot bytes are
// gzip-compressed before storage (§4.4: "may compress when bytes exceed
// a threshold").
const compressionThreshold = 4096

// Snapshot is a State Snapshot: a serialized, checksummed capture of a
// module's opaque state at a point in time. The core never interprets
// Bytes; only the owning module's migrate/deserialize functions do.
type Snapshot struct {
	ID              string
	ModuleID        registry.ID
	Version         registry.Version
	Bytes           []byte
	Size            int
	Checksum        string
	CompressionKind CompressionKind
	CreatedAt       time.Time
}

// NewSnapshot builds a Snapshot from plaintext module state bytes,
// compressing them when they exceed compressionThreshold. Compression
// is verified round-trip before returning, per §4.4's "lossless and
// round-trip verified" requirement.
func NewSnapshot(id string, moduleID registry.ID, version registry.Version, plaintext []byte) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        id,
		ModuleID:  moduleID,
		Version:   version,
		Size:      len(plaintext),
		CreatedAt: time.Now(),
	}

	if len(plaintext) > compressionThreshold {
		compressed, err := gzipCompress(plaintext)
		if err != nil {
			return nil, herrors.Wrap(herrors.StateCorrupted, "compressing snapshot", err)
		}
		roundTripped, err := gzipDecompress(compressed)
		if err != nil || !bytes.Equal(roundTripped, plaintext) {
			return nil, herrors.New(herrors.StateCorrupted, "snapshot compression failed round-trip verification")
		}
		snap.Bytes = compressed
		snap.CompressionKind = CompressionGzip
	} else {
		snap.Bytes = plaintext
		snap.CompressionKind = CompressionNone
	}

	snap.Checksum = checksumOf(plaintext)
	return snap, nil
}

// Plaintext decompresses Bytes (if needed) and verifies the checksum
// against the stored value, per invariant 6 (§3): a mismatch returns a
// StateCorrupted error and no plaintext, so nothing can migrate from it.
func (s *Snapshot) Plaintext() ([]byte, error) {
	var out []byte
	var err error

	switch s.CompressionKind {
	case CompressionGzip:
		out, err = gzipDecompress(s.Bytes)
		if err != nil {
			return nil, herrors.Wrap(herrors.StateCorrupted, "decompressing snapshot", err)
		}
	default:
		out = s.Bytes
	}

	if checksumOf(out) != s.Checksum {
		return nil, herrors.New(herrors.StateCorrupted, fmt.Sprintf("snapshot %s checksum mismatch", s.ID))
	}
	return out, nil
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

func gzipCompress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
