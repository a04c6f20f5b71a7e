package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/synth"
)

// Config holds application configuration.
type Config struct {
	// Training defaults. Zero values inherit from the layer below.
	Epochs             int       `json:"epochs,omitempty" validate:"gte=0"`
	BatchSize          int       `json:"batch_size,omitempty" validate:"gte=0"`
	Pac                int       `json:"pac,omitempty" validate:"gte=0"`
	DiscriminatorSteps int       `json:"discriminator_steps,omitempty" validate:"gte=0"`
	EmbeddingDim       int       `json:"embedding_dim,omitempty" validate:"gte=0"`
	GeneratorDim       []int     `json:"generator_dim,omitempty" validate:"dive,gt=0"`
	DiscriminatorDim   []int     `json:"discriminator_dim,omitempty" validate:"dive,gt=0"`
	GeneratorLR        float64   `json:"generator_lr,omitempty" validate:"gte=0"`
	GeneratorDecay     float64   `json:"generator_decay,omitempty" validate:"gte=0"`
	DiscriminatorLR    float64   `json:"discriminator_lr,omitempty" validate:"gte=0"`
	DiscriminatorDecay float64   `json:"discriminator_decay,omitempty" validate:"gte=0"`
	GradientPenalty    float64   `json:"gradient_penalty,omitempty" validate:"gte=0"`
	MaxClusters        int       `json:"max_clusters,omitempty" validate:"gte=0,lte=10"`
	WeightThreshold    float64   `json:"weight_threshold,omitempty" validate:"gte=0,lt=1"`
	Seed               uint64    `json:"seed,omitempty"`
	DisableMinMaxClip  bool      `json:"disable_min_max_clip,omitempty"`

	// SampleMaxRetries is the default retry budget for conditional sampling.
	SampleMaxRetries int `json:"sample_max_retries,omitempty" validate:"gte=0"`

	// LogFile is the rotated JSON log file. Empty means baseDir/tabsynth.log.
	LogFile string `json:"log_file,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" validate:"gte=0"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" validate:"gte=0"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "model". Unknown type names are logged as warnings.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	t := synth.DefaultConfig()
	return &Config{
		Epochs:             t.Epochs,
		BatchSize:          t.BatchSize,
		Pac:                t.Pac,
		DiscriminatorSteps: t.DiscriminatorSteps,
		EmbeddingDim:       t.EmbeddingDim,
		GeneratorDim:       t.GeneratorDim,
		DiscriminatorDim:   t.DiscriminatorDim,
		GeneratorLR:        t.GeneratorLR,
		GeneratorDecay:     t.GeneratorDecay,
		DiscriminatorLR:    t.DiscriminatorLR,
		DiscriminatorDecay: t.DiscriminatorDecay,
		GradientPenalty:    t.GradientPenalty,
		MaxClusters:        t.MaxClusters,
		WeightThreshold:    t.WeightThreshold,
		SampleMaxRetries:   synth.DefaultMaxRetries,
		LogLevel:           "info",
	}
}

// Training converts the configuration into validated training hyperparameters.
func (c *Config) Training() (synth.Config, error) {
	t := synth.DefaultConfig()
	t.Epochs = c.Epochs
	t.BatchSize = c.BatchSize
	t.Pac = c.Pac
	t.DiscriminatorSteps = c.DiscriminatorSteps
	t.EmbeddingDim = c.EmbeddingDim
	t.GeneratorDim = append([]int(nil), c.GeneratorDim...)
	t.DiscriminatorDim = append([]int(nil), c.DiscriminatorDim...)
	t.GeneratorLR = c.GeneratorLR
	t.GeneratorDecay = c.GeneratorDecay
	t.DiscriminatorLR = c.DiscriminatorLR
	t.DiscriminatorDecay = c.DiscriminatorDecay
	t.GradientPenalty = c.GradientPenalty
	t.MaxClusters = c.MaxClusters
	t.WeightThreshold = c.WeightThreshold
	t.Seed = c.Seed
	t.ClipMinMax = !c.DisableMinMaxClip
	if err := t.Validate(); err != nil {
		return synth.Config{}, err
	}
	return t, nil
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

// Validate checks field ranges.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if stderrors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewInvalidConfig(fe.Field(), fmt.Sprintf("value %v fails %s=%s", fe.Value(), fe.Tag(), fe.Param()))
	}
	return errors.NewInvalidConfig("", err.Error())
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tabsynth.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.tabsynth) and repo (.tabsynth)
// directories, then applies environment overrides (after loading globalDir/.env).
// Repo config is found by walking upward from startDir to find the nearest
// .tabsynth/config.json. Repo config takes precedence for scalar values; string arrays
// are merged (deduplicated). Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := LoadEnvFile(filepath.Join(globalDir, ".env")); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .tabsynth/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tabsynth", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from TABSYNTH_* environment variables.
func ApplyEnv(cfg *Config) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"TABSYNTH_EPOCHS", &cfg.Epochs},
		{"TABSYNTH_BATCH_SIZE", &cfg.BatchSize},
		{"TABSYNTH_PAC", &cfg.Pac},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewInvalidConfig(e.key, fmt.Sprintf("%q is not an integer", v))
		}
		*e.dst = n
	}
	if v := os.Getenv("TABSYNTH_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return errors.NewInvalidConfig("TABSYNTH_SEED", fmt.Sprintf("%q is not an unsigned integer", v))
		}
		cfg.Seed = n
	}
	if v := os.Getenv("TABSYNTH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for non-zero scalars and non-empty layer lists;
// string arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		Epochs:             pick(overlay.Epochs, base.Epochs),
		BatchSize:          pick(overlay.BatchSize, base.BatchSize),
		Pac:                pick(overlay.Pac, base.Pac),
		DiscriminatorSteps: pick(overlay.DiscriminatorSteps, base.DiscriminatorSteps),
		EmbeddingDim:       pick(overlay.EmbeddingDim, base.EmbeddingDim),
		GeneratorLR:        pick(overlay.GeneratorLR, base.GeneratorLR),
		GeneratorDecay:     pick(overlay.GeneratorDecay, base.GeneratorDecay),
		DiscriminatorLR:    pick(overlay.DiscriminatorLR, base.DiscriminatorLR),
		DiscriminatorDecay: pick(overlay.DiscriminatorDecay, base.DiscriminatorDecay),
		GradientPenalty:    pick(overlay.GradientPenalty, base.GradientPenalty),
		MaxClusters:        pick(overlay.MaxClusters, base.MaxClusters),
		WeightThreshold:    pick(overlay.WeightThreshold, base.WeightThreshold),
		Seed:               pick(overlay.Seed, base.Seed),
		SampleMaxRetries:   pick(overlay.SampleMaxRetries, base.SampleMaxRetries),
		LogFile:            pick(overlay.LogFile, base.LogFile),
		LogLevel:           pick(overlay.LogLevel, base.LogLevel),
		DBMaxOpenConns:     pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:     pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	// Booleans: overlay wins if true, else base
	result.DisableMinMaxClip = base.DisableMinMaxClip || overlay.DisableMinMaxClip

	// Layer widths replace rather than merge.
	result.GeneratorDim = base.GeneratorDim
	if len(overlay.GeneratorDim) > 0 {
		result.GeneratorDim = overlay.GeneratorDim
	}
	result.DiscriminatorDim = base.DiscriminatorDim
	if len(overlay.DiscriminatorDim) > 0 {
		result.DiscriminatorDim = overlay.DiscriminatorDim
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// pick returns overlay unless it is the zero value.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
