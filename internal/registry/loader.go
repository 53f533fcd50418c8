package registry

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hotreload/hmr/internal/herrors"
	"github.com/hotreload/hmr/internal/metrics"
)

// EntrySymbolResolver builds the exported interface table out of raw
// artifact bytes once the Loader has verified integrity. In the
// teacher's world this would be a dlopen+dlsym pair; here it is
// supplied by the embedder (e.g. a plugin loader or an in-process
// module table) so the core stays free of any particular code-loading
// mechanism.
type EntrySymbolResolver func(artifact []byte) (map[string]EntryPoint, error)

// LoaderConfig configures artifact verification.
type LoaderConfig struct {
	// RequireSignature rejects any artifact lacking a valid Ed25519
	// signature, matching config option security.require_signature.
	RequireSignature bool
	// PublicKey verifies signed artifacts when RequireSignature is set.
	PublicKey ed25519.PublicKey
	// CacheSize bounds how many recently loaded code images are kept
	// around keyed by content hash, so rebuilding to an identical
	// artifact (e.g. a no-op touch) skips re-resolving symbols.
	CacheSize int
}

// Loader maps build artifacts into CodeImages: it validates integrity
// (hash, optional signature) and resolves the well-known entry symbol
// per spec §4.2.
type Loader struct {
	cfg      LoaderConfig
	resolve  EntrySymbolResolver
	logger   *slog.Logger
	metrics  *metrics.RegistryMetrics
	cache    *lru.Cache[string, *CodeImage]
}

// NewLoader constructs a Loader. resolve is required; it is how the
// embedder turns artifact bytes into an export table.
func NewLoader(cfg LoaderConfig, resolve EntrySymbolResolver, logger *slog.Logger, m *metrics.RegistryMetrics) (*Loader, error) {
	if resolve == nil {
		return nil, fmt.Errorf("registry: loader requires a symbol resolver")
	}
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 32
	}
	cache, err := lru.New[string, *CodeImage](size)
	if err != nil {
		return nil, fmt.Errorf("registry: building loader cache: %w", err)
	}
	return &Loader{cfg: cfg, resolve: resolve, logger: logger, metrics: m, cache: cache}, nil
}

// ArtifactMeta carries the version and signature alongside the
// artifact path, which a real build pipeline would produce as part of
// its Built(target, artifact_path, duration) event.
type ArtifactMeta struct {
	ModuleID     ID
	Version      Version
	ArtifactPath string
	Signature    []byte
}

// Load maps the artifact at meta.ArtifactPath, validates its integrity,
// and resolves the module's exported interface table, returning an
// owned CodeImage (refcount 1).
func (l *Loader) Load(meta ArtifactMeta) (*CodeImage, error) {
	start := time.Now()

	raw, err := os.ReadFile(meta.ArtifactPath)
	if err != nil {
		l.recordLoad("load_failed")
		return nil, herrors.Wrap(herrors.LoadFailed, "reading artifact", err)
	}

	hash := sha256.Sum256(raw)
	contentHash := fmt.Sprintf("%x", hash)

	if cached, ok := l.cache.Get(contentHash); ok {
		cached.Retain()
		l.recordLoad("cache_hit")
		return cached, nil
	}

	if meta.Version.ContentHash != "" && meta.Version.ContentHash != contentHash {
		l.recordLoad("integrity_failed")
		return nil, herrors.New(herrors.IntegrityFailed, "artifact content hash mismatch")
	}

	if l.cfg.RequireSignature {
		if len(l.cfg.PublicKey) == 0 || len(meta.Signature) == 0 {
			l.recordLoad("signature_invalid")
			return nil, herrors.New(herrors.SignatureInvalid, "artifact is unsigned")
		}
		if !ed25519.Verify(l.cfg.PublicKey, raw, meta.Signature) {
			l.recordLoad("signature_invalid")
			if l.metrics != nil {
				l.metrics.SignatureRejects.Inc()
			}
			return nil, herrors.New(herrors.SignatureInvalid, "artifact signature verification failed")
		}
	}

	exports, err := l.resolve(raw)
	if err != nil {
		l.recordLoad("symbol_not_found")
		return nil, herrors.Wrap(herrors.SymbolNotFound, "resolving module entry symbol", err)
	}

	version := meta.Version
	version.ContentHash = contentHash

	img := NewCodeImage(meta.ModuleID, version, meta.ArtifactPath, raw, exports)
	l.cache.Add(contentHash, img)

	l.recordLoad("success")
	if l.metrics != nil {
		l.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	}
	l.logger.Info("artifact loaded", "module_id", meta.ModuleID, "version", version.String(), "bytes", len(raw))
	return img, nil
}

func (l *Loader) recordLoad(outcome string) {
	if l.metrics != nil {
		l.metrics.LoadsTotal.WithLabelValues(outcome).Inc()
	}
}
