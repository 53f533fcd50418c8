package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ReplayHandler receives each valid record in LSN order during recovery.
type ReplayHandler func(Record) error

// Replay reads every valid record from the WAL file at path in LSN
// order, invoking handler for each. A truncated or corrupted tail
// record stops replay at the last good LSN rather than failing the
// whole recovery (spec §4.5, §8 boundary property): "a WAL with a
// corrupted tail record truncates to the last good LSN; subsequent
// init succeeds."
func Replay(path string, logger *slog.Logger, handler ReplayHandler) (lastGoodLSN uint64, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wal: opening for replay: %w", err)
	}
	defer f.Close()

	for {
		var lenPrefix [4]byte
		if _, err := io.ReadFull(f, lenPrefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Warn("wal: truncating at incomplete length prefix", "last_good_lsn", lastGoodLSN)
			break
		}

		size := binary.BigEndian.Uint32(lenPrefix[:])
		buf := make([]byte, size)
		if _, err := io.ReadFull(f, buf); err != nil {
			logger.Warn("wal: truncating at incomplete record body", "last_good_lsn", lastGoodLSN)
			break
		}

		var rec Record
		if err := json.Unmarshal(buf, &rec); err != nil {
			logger.Warn("wal: truncating at unparseable record", "last_good_lsn", lastGoodLSN, "error", err)
			break
		}

		if !rec.Verify() {
			logger.Warn("wal: truncating at checksum mismatch", "lsn", rec.LSN, "last_good_lsn", lastGoodLSN)
			break
		}

		if err := handler(rec); err != nil {
			return lastGoodLSN, fmt.Errorf("wal: replaying record %d: %w", rec.LSN, err)
		}

		lastGoodLSN = rec.LSN
	}

	return lastGoodLSN, nil
}
