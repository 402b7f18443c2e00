package domain

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete Ringwatch configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository"`
	Cache      CacheConfig      `koanf:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus"`

	// Observability
	Logging LoggingConfig `koanf:"logging"`
	Tracing TracingConfig `koanf:"tracing"`

	// Analysis engine
	Detection DetectionConfig `koanf:"detection"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Rings     RingConfig      `koanf:"rings"`
	Triage    TriageConfig    `koanf:"triage"`

	// Background analysis
	Worker WorkerConfig `koanf:"worker"`
}

// TriageConfig controls the CEL triage engine.
type TriageConfig struct {
	// SeedDefaults stores the built-in triage rules when the rule store is empty.
	SeedDefaults bool `koanf:"seed_defaults"`
	MaxWorkers   int  `koanf:"max_workers"`
}

// WorkerConfig controls the ledger submission consumer.
type WorkerConfig struct {
	Enabled bool `koanf:"enabled"`

	// Tenants limits the worker to these tenants; empty consumes all.
	Tenants []string `koanf:"tenants"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// MaxUploadBytes caps the size of a ledger upload.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	// OutputPath, when set, receives a copy of every synchronous report.
	OutputPath string `koanf:"output_path"`

	// DefaultTenant is used when a request carries no X-Tenant-ID header.
	// Empty makes the header mandatory.
	DefaultTenant string `koanf:"default_tenant"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// DetectionConfig groups the structural detector bounds.
type DetectionConfig struct {
	Cycle CycleConfig `koanf:"cycle"`
	Shell ShellConfig `koanf:"shell"`
	Smurf SmurfConfig `koanf:"smurf"`
}

// CycleConfig bounds cycle enumeration.
type CycleConfig struct {
	MinLength int `koanf:"min_length"`
	MaxLength int `koanf:"max_length"`

	// MaxResults stops enumeration once this many cycles are recorded.
	// A capped result is a lower bound on the true cycle count.
	MaxResults int `koanf:"max_results"`
}

// ShellConfig bounds shell-chain search.
type ShellConfig struct {
	MaxDepth          int `koanf:"max_depth"` // hops
	MaxInteriorDegree int `koanf:"max_interior_degree"`
	MinLength         int `koanf:"min_length"` // accounts

	// RestrictEndpoints applies the interior filter to the source and sink too.
	RestrictEndpoints bool `koanf:"restrict_endpoints"`
}

// SmurfConfig tunes fan-in/fan-out detection.
type SmurfConfig struct {
	Threshold int           `koanf:"threshold"` // distinct counterparties
	Window    time.Duration `koanf:"window"`
}

// ScoringConfig holds the suspicion score constants.
type ScoringConfig struct {
	Cycle3Base       float64 `koanf:"cycle3_base"`
	Cycle4Base       float64 `koanf:"cycle4_base"`
	Cycle5Base       float64 `koanf:"cycle5_base"`
	CycleDefaultBase float64 `koanf:"cycle_default_base"`
	FanBase          float64 `koanf:"fan_base"`
	ShellBase        float64 `koanf:"shell_base"`

	MultiPatternBonus float64 `koanf:"multi_pattern_bonus"`
	MaxScore          float64 `koanf:"max_score"`

	// Accounts above DampeningMinTx transactions with no cycle pattern
	// are multiplied by DampeningFactor.
	DampeningMinTx  int     `koanf:"dampening_min_tx"`
	DampeningFactor float64 `koanf:"dampening_factor"`
}

// CycleBase returns the base score for a cycle of n accounts.
func (s ScoringConfig) CycleBase(n int) float64 {
	switch n {
	case 3:
		return s.Cycle3Base
	case 4:
		return s.Cycle4Base
	case 5:
		return s.Cycle5Base
	default:
		return s.CycleDefaultBase
	}
}

// OverlapPolicy decides which ring an account keeps when it belongs to several.
type OverlapPolicy string

const (
	// OverlapLastWriter keeps the most recently created ring.
	OverlapLastWriter OverlapPolicy = "last_writer"

	// OverlapHighestRisk keeps the ring with the highest risk score;
	// ties keep the earlier ring.
	OverlapHighestRisk OverlapPolicy = "highest_risk"
)

// RingConfig holds ring labelling constants.
type RingConfig struct {
	Prefix        string        `koanf:"prefix"`
	CycleRisk     float64       `koanf:"cycle_risk"`
	FanRisk       float64       `koanf:"fan_risk"`
	ShellRisk     float64       `koanf:"shell_risk"`
	IsolatedRisk  float64       `koanf:"isolated_risk"`
	OverlapPolicy OverlapPolicy `koanf:"overlap_policy"`
}

// DefaultDetectionConfig returns the standard detector bounds.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Cycle: CycleConfig{MinLength: 3, MaxLength: 5, MaxResults: 200},
		Shell: ShellConfig{MaxDepth: 5, MaxInteriorDegree: 3, MinLength: 4},
		Smurf: SmurfConfig{Threshold: 10, Window: 72 * time.Hour},
	}
}

// DefaultScoringConfig returns the standard scoring constants.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Cycle3Base:        85,
		Cycle4Base:        80,
		Cycle5Base:        75,
		CycleDefaultBase:  75,
		FanBase:           70,
		ShellBase:         65,
		MultiPatternBonus: 10,
		MaxScore:          100,
		DampeningMinTx:    100,
		DampeningFactor:   0.4,
	}
}

// DefaultRingConfig returns the standard ring constants.
func DefaultRingConfig() RingConfig {
	return RingConfig{
		Prefix:        "RING_",
		CycleRisk:     95,
		FanRisk:       85,
		ShellRisk:     75,
		IsolatedRisk:  40,
		OverlapPolicy: OverlapLastWriter,
	}
}

// DefaultConfig returns a single-node configuration with SQLite,
// an in-process cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxUploadBytes: 64 << 20,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./ringwatch.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
			ReportTTL:    time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "ringwatch",
		},
		Detection: DefaultDetectionConfig(),
		Scoring:   DefaultScoringConfig(),
		Rings:     DefaultRingConfig(),
		Triage: TriageConfig{
			SeedDefaults: true,
			MaxWorkers:   16,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
	}
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects settings the detectors cannot honour.
func (c *Config) Validate() error {
	d := c.Detection
	switch {
	case d.Cycle.MinLength < 3:
		return fmt.Errorf("%w: cycle min_length must be at least 3", ErrInvalidConfig)
	case d.Cycle.MaxLength < d.Cycle.MinLength:
		return fmt.Errorf("%w: cycle max_length must not be below min_length", ErrInvalidConfig)
	case d.Cycle.MaxResults <= 0:
		return fmt.Errorf("%w: cycle max_results must be positive", ErrInvalidConfig)
	case d.Shell.MaxDepth <= 0:
		return fmt.Errorf("%w: shell max_depth must be positive", ErrInvalidConfig)
	case d.Shell.MinLength < 2:
		return fmt.Errorf("%w: shell min_length must be at least 2", ErrInvalidConfig)
	case d.Smurf.Threshold <= 0:
		return fmt.Errorf("%w: smurf threshold must be positive", ErrInvalidConfig)
	case d.Smurf.Window <= 0:
		return fmt.Errorf("%w: smurf window must be positive", ErrInvalidConfig)
	}

	if c.Scoring.MaxScore <= 0 {
		return fmt.Errorf("%w: scoring max_score must be positive", ErrInvalidConfig)
	}
	if c.Scoring.DampeningFactor < 0 || c.Scoring.DampeningFactor > 1 {
		return fmt.Errorf("%w: scoring dampening_factor must be within [0,1]", ErrInvalidConfig)
	}

	switch c.Rings.OverlapPolicy {
	case OverlapLastWriter, OverlapHighestRisk:
	default:
		return fmt.Errorf("%w: unknown ring overlap_policy %q", ErrInvalidConfig, c.Rings.OverlapPolicy)
	}
	return nil
}
