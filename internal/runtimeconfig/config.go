// Package runtimeconfig loads and validates the runtime's own
// configuration (§6): the scheduler's frame budget, the registry's
// capacity, the write-ahead log's durability mode, the build
// pipeline's admission thresholds, and artifact signing policy.
package runtimeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/hotreload/hmr/internal/txn"
	"github.com/hotreload/hmr/internal/wal"
)

// Options is the full set of tunables a deployment may set, either via
// a YAML file or HMR_-prefixed environment variables (e.g.
// HMR_BUILD_MAX_PARALLEL_JOBS overrides build.max_parallel_jobs).
type Options struct {
	CheckIntervalFrames  uint64        `mapstructure:"check_interval_frames" validate:"gte=1"`
	MaxFrameBudget       time.Duration `mapstructure:"max_frame_budget_ns" validate:"gt=0"`
	AdaptiveBudgeting    bool          `mapstructure:"adaptive_budgeting"`
	MaxConcurrentModules int           `mapstructure:"max_concurrent_modules" validate:"gte=1"`
	MemoryPoolBytes      int64         `mapstructure:"memory_pool_bytes" validate:"gte=0"`

	WALPath       string `mapstructure:"wal_path" validate:"required"`
	WALDurability string `mapstructure:"wal_durability" validate:"oneof=BufferedOnly FsyncOnCommit FsyncEveryRecord"`

	DefaultIsolation string `mapstructure:"default_isolation" validate:"oneof=ReadUncommitted ReadCommitted RepeatableRead Serializable"`

	Build    BuildOptions    `mapstructure:"build"`
	Security SecurityOptions `mapstructure:"security"`

	SnapshotRetentionCount int           `mapstructure:"snapshot_retention_count" validate:"gte=0"`
	SnapshotRetentionAge   time.Duration `mapstructure:"snapshot_retention_age"`
}

// BuildOptions configures the build pipeline's admission gate.
type BuildOptions struct {
	MaxParallelJobs  int     `mapstructure:"max_parallel_jobs" validate:"gte=1"`
	CPULoadThreshold float64 `mapstructure:"cpu_load_threshold" validate:"gt=0,lte=1"`
}

// SecurityOptions configures artifact verification.
type SecurityOptions struct {
	RequireSignature bool   `mapstructure:"require_signature"`
	PublicKeyPath    string `mapstructure:"public_key_path"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Isolation translates DefaultIsolation into the txn package's enum.
func (o Options) Isolation() txn.Isolation {
	switch o.DefaultIsolation {
	case "ReadUncommitted":
		return txn.ReadUncommitted
	case "ReadCommitted":
		return txn.ReadCommitted
	case "RepeatableRead":
		return txn.RepeatableRead
	default:
		return txn.Serializable
	}
}

// Durability translates WALDurability into the wal package's enum.
func (o Options) Durability() wal.Durability {
	switch o.WALDurability {
	case "BufferedOnly":
		return wal.BufferedOnly
	case "FsyncEveryRecord":
		return wal.FsyncEveryRecord
	default:
		return wal.FsyncOnCommit
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("check_interval_frames", 60)
	v.SetDefault("max_frame_budget_ns", (2 * time.Millisecond).Nanoseconds())
	v.SetDefault("adaptive_budgeting", true)
	v.SetDefault("max_concurrent_modules", 256)
	v.SetDefault("memory_pool_bytes", 0)
	v.SetDefault("wal_path", "hmr.wal")
	v.SetDefault("wal_durability", "FsyncOnCommit")
	v.SetDefault("default_isolation", "Serializable")
	v.SetDefault("build.max_parallel_jobs", 4)
	v.SetDefault("build.cpu_load_threshold", 0.85)
	v.SetDefault("security.require_signature", false)
	v.SetDefault("snapshot_retention_count", 10)
	v.SetDefault("snapshot_retention_age", (24 * time.Hour).String())
}

// Load reads options from configPath (if non-empty and present),
// overlays HMR_-prefixed environment variables, and validates the
// result. An empty configPath loads defaults plus environment only.
func Load(configPath string) (*Options, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("hmr")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("runtimeconfig: reading config file: %w", err)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("runtimeconfig: unmarshaling config: %w", err)
	}

	if err := validate.Struct(&opts); err != nil {
		return nil, fmt.Errorf("runtimeconfig: validation failed: %w", err)
	}
	return &opts, nil
}
