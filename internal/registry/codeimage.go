package registry

import (
	"sync/atomic"
)

// EntryPoint is the resolved address of one exported symbol within a
// CodeImage's export table. The core treats it as opaque; only the
// module interface table behind it has meaning.
type EntryPoint any

// CodeImage is an immutable, reference-counted handle to loaded
// executable code plus its resolved export table. Once published it is
// never mutated — a reload produces a new CodeImage, never an in-place
// edit — so any reader holding a reference always sees a fully
// constructed image (invariant 1, §3).
type CodeImage struct {
	ModuleID    ID
	Version     Version
	ArtifactPath string
	exports      map[string]EntryPoint
	artifact     []byte

	refcount atomic.Int64
}

// NewCodeImage constructs a CodeImage with refcount 1 (the caller's own
// reference). Callers must Release it when done, typically by handing
// ownership to the Registry via activate.
func NewCodeImage(moduleID ID, version Version, artifactPath string, artifact []byte, exports map[string]EntryPoint) *CodeImage {
	img := &CodeImage{
		ModuleID:     moduleID,
		Version:      version,
		ArtifactPath: artifactPath,
		exports:      exports,
		artifact:     artifact,
	}
	img.refcount.Store(1)
	return img
}

// Resolve looks up an exported symbol by name.
func (c *CodeImage) Resolve(name string) (EntryPoint, bool) {
	ep, ok := c.exports[name]
	return ep, ok
}

// Retain increments the reference count, returning the new count. Call
// it whenever a new owner (a transaction, a registry entry) begins
// holding the image.
func (c *CodeImage) Retain() int64 {
	return c.refcount.Add(1)
}

// Release decrements the reference count, returning the new count. A
// count of zero means the image has no remaining owners and its
// backing artifact bytes may be dropped; per invariant 2 the caller
// must also confirm no Active/Prepared transaction still references it
// before physically freeing anything.
func (c *CodeImage) Release() int64 {
	return c.refcount.Add(-1)
}

// Refcount returns the current reference count.
func (c *CodeImage) Refcount() int64 {
	return c.refcount.Load()
}

// Size returns the size in bytes of the backing artifact.
func (c *CodeImage) Size() int {
	return len(c.artifact)
}
