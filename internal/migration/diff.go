package migration

import "bytes"

// ChangeRange marks a contiguous run of bytes that differ between two
// byte sequences of matching length.
type ChangeRange struct {
	Offset int
	Length int
}

// DiffSpec is the changed-byte-range report surfaced to the
// Observability interface. Diffing never affects commit correctness
// (§4.4) — it exists purely so an observer can render "what changed".
type DiffSpec struct {
	Ranges      []ChangeRange
	TotalBytes  int
	ChangedBytes int
}

// chunkSize is the granularity of the byte-equality scan. Comparing in
// fixed-size chunks rather than byte-by-byte lets bytes.Equal vectorize
// the common case (large unchanged spans) instead of branching on
// every byte.
const chunkSize = 64

// Diff produces a DiffSpec describing which byte ranges differ between
// base and updated. The common prefix (the shorter of the two lengths)
// is compared chunk by chunk; when updated is longer, its extra bytes
// are reported as one more range at the tail. The migration function
// decides whether that represents a meaningful change.
func Diff(base, updated []byte) DiffSpec {
	spec := DiffSpec{TotalBytes: len(updated)}

	minLen := len(base)
	if len(updated) < minLen {
		minLen = len(updated)
	}

	var current *ChangeRange
	flush := func() {
		if current != nil {
			spec.Ranges = append(spec.Ranges, *current)
			spec.ChangedBytes += current.Length
			current = nil
		}
	}

	for offset := 0; offset < minLen; offset += chunkSize {
		end := offset + chunkSize
		if end > minLen {
			end = minLen
		}
		if bytes.Equal(base[offset:end], updated[offset:end]) {
			flush()
			continue
		}
		if current == nil {
			current = &ChangeRange{Offset: offset, Length: end - offset}
		} else {
			current.Length = end - current.Offset
		}
	}
	flush()

	if len(updated) > minLen {
		spec.Ranges = append(spec.Ranges, ChangeRange{Offset: minLen, Length: len(updated) - minLen})
		spec.ChangedBytes += len(updated) - minLen
	}

	return spec
}
