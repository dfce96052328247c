// Package config loads the YAML run configuration for a mongobar replay.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Target  TargetConfig  `yaml:"target"`
	Run     RunConfig     `yaml:"run"`
	Metrics MetricsConfig `yaml:"metrics"`
	State   StateConfig   `yaml:"state"`
}

type ServerConfig struct {
	WorkdirRoot    string `yaml:"workdir_root"`
	LoggingLevel   string `yaml:"logging_level"`
	RuntimeThreads int    `yaml:"runtime_threads"` // 0 = 2*(NumCPU-1)+1
}

type TargetConfig struct {
	URI          string `yaml:"uri"`
	DB           string `yaml:"db"`
	PerClientMax int    `yaml:"per_client_max"`
}

type RunConfig struct {
	Name          string   `yaml:"name"`
	ThreadCount   int      `yaml:"thread_count"`
	LoopCount     int      `yaml:"loop_count"`
	RunMode       string   `yaml:"run_mode"`  // readonly | readwrite
	ReadMode      string   `yaml:"read_mode"` // fullline | readline | streamline
	DynCCLimit    int      `yaml:"dyn_cc_limit"`
	Filter        string   `yaml:"filter"`
	IgnoreFields  []string `yaml:"ignore_fields"`
	Reversibility string   `yaml:"reversibility"` // none | structural | resume
	ExportData    bool     `yaml:"export_data"`
}

type MetricsConfig struct {
	TeeDir            string `yaml:"tee_dir"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusAddr    string `yaml:"prometheus_addr"`
}

// StateConfig selects the Store backend for run counters (state.json).
// Backend "postgres" lets several mongobar processes coordinating one
// distributed run share a single counters row, keyed by run.name.
type StateConfig struct {
	Backend     string `yaml:"backend"` // file | postgres
	PostgresDSN string `yaml:"postgres_dsn"`
}

// UnmarshalYAML supports "os.environ/VAR_NAME" substitution on every string
// field of ServerConfig, the way the teacher's ServerConfig does.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		WorkdirRoot    string `yaml:"workdir_root"`
		LoggingLevel   string `yaml:"logging_level"`
		RuntimeThreads string `yaml:"runtime_threads"`
	}
	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	s.WorkdirRoot = resolveEnvString(temp.WorkdirRoot)
	s.LoggingLevel = resolveEnvString(temp.LoggingLevel)

	var err error
	if temp.RuntimeThreads != "" {
		s.RuntimeThreads, err = resolveEnvInt(temp.RuntimeThreads, 0)
		if err != nil {
			return fmt.Errorf("invalid runtime_threads: %w", err)
		}
	}
	return nil
}

func (t *TargetConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		URI          string `yaml:"uri"`
		DB           string `yaml:"db"`
		PerClientMax string `yaml:"per_client_max"`
	}
	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	t.URI = resolveEnvString(temp.URI)
	t.DB = resolveEnvString(temp.DB)

	var err error
	if temp.PerClientMax != "" {
		t.PerClientMax, err = resolveEnvInt(temp.PerClientMax, 100)
		if err != nil {
			return fmt.Errorf("invalid per_client_max: %w", err)
		}
	}
	return nil
}

func (r *RunConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		Name          string   `yaml:"name"`
		ThreadCount   string   `yaml:"thread_count"`
		LoopCount     string   `yaml:"loop_count"`
		RunMode       string   `yaml:"run_mode"`
		ReadMode      string   `yaml:"read_mode"`
		DynCCLimit    string   `yaml:"dyn_cc_limit"`
		Filter        string   `yaml:"filter"`
		IgnoreFields  []string `yaml:"ignore_fields"`
		Reversibility string   `yaml:"reversibility"`
		ExportData    string   `yaml:"export_data"`
	}
	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	r.Name = resolveEnvString(temp.Name)
	r.RunMode = resolveEnvString(temp.RunMode)
	r.ReadMode = resolveEnvString(temp.ReadMode)
	r.Filter = resolveEnvString(temp.Filter)
	r.IgnoreFields = temp.IgnoreFields
	r.Reversibility = resolveEnvString(temp.Reversibility)

	var err error
	if temp.ThreadCount != "" {
		r.ThreadCount, err = resolveEnvInt(temp.ThreadCount, 16)
		if err != nil {
			return fmt.Errorf("invalid thread_count: %w", err)
		}
	}
	if temp.LoopCount != "" {
		r.LoopCount, err = resolveEnvInt(temp.LoopCount, 1)
		if err != nil {
			return fmt.Errorf("invalid loop_count: %w", err)
		}
	}
	if temp.DynCCLimit != "" {
		r.DynCCLimit, err = resolveEnvInt(temp.DynCCLimit, 0)
		if err != nil {
			return fmt.Errorf("invalid dyn_cc_limit: %w", err)
		}
	}
	if temp.ExportData != "" {
		r.ExportData, err = resolveEnvBool(temp.ExportData, false)
		if err != nil {
			return fmt.Errorf("invalid export_data: %w", err)
		}
	}
	return nil
}

func (m *MetricsConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		TeeDir            string `yaml:"tee_dir"`
		PrometheusEnabled string `yaml:"prometheus_enabled"`
		PrometheusAddr    string `yaml:"prometheus_addr"`
	}
	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	m.TeeDir = resolveEnvString(temp.TeeDir)
	m.PrometheusAddr = resolveEnvString(temp.PrometheusAddr)

	var err error
	if temp.PrometheusEnabled != "" {
		m.PrometheusEnabled, err = resolveEnvBool(temp.PrometheusEnabled, true)
		if err != nil {
			return fmt.Errorf("invalid prometheus_enabled: %w", err)
		}
	} else {
		m.PrometheusEnabled = true
	}
	return nil
}

func (s *StateConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		Backend     string `yaml:"backend"`
		PostgresDSN string `yaml:"postgres_dsn"`
	}
	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}
	s.Backend = resolveEnvString(temp.Backend)
	s.PostgresDSN = resolveEnvString(temp.PostgresDSN)
	return nil
}

// Load reads, parses and validates path, applying defaults along the way.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields the way the teacher's
// LiteLLMDBConfig.ApplyDefaults does, fail-fast at startup rather than
// papering over missing config mid-run.
func (c *Config) ApplyDefaults() {
	if c.Server.WorkdirRoot == "" {
		c.Server.WorkdirRoot = ".mongobar"
	}
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.RuntimeThreads <= 0 {
		c.Server.RuntimeThreads = 2*(runtime.NumCPU()-1) + 1
	}
	if c.Target.URI == "" {
		c.Target.URI = "mongodb://localhost:27017"
	}
	if c.Target.DB == "" {
		c.Target.DB = "bench"
	}
	if c.Target.PerClientMax <= 0 {
		c.Target.PerClientMax = 100
	}
	if c.Run.Name == "" {
		c.Run.Name = "default"
	}
	if c.Run.ThreadCount <= 0 {
		c.Run.ThreadCount = 16
	}
	if c.Run.RunMode == "" {
		c.Run.RunMode = "readwrite"
	}
	if c.Run.ReadMode == "" {
		c.Run.ReadMode = "fullline"
	}
	if len(c.Run.IgnoreFields) == 0 {
		c.Run.IgnoreFields = []string{"lsid", "$clusterTime", "$db"}
	}
	if c.Run.Reversibility == "" {
		c.Run.Reversibility = "none"
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.Metrics.PrometheusAddr == "" {
		c.Metrics.PrometheusAddr = ":9090"
	}
}

func (c *Config) Validate() error {
	validLevels := map[string]bool{"info": true, "debug": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid server.logging_level: %s (must be info, debug, or error)", c.Server.LoggingLevel)
	}

	if c.Target.URI == "" {
		return fmt.Errorf("target.uri is required")
	}
	if c.Target.DB == "" {
		return fmt.Errorf("target.db is required")
	}

	if c.Run.ThreadCount <= 0 {
		return fmt.Errorf("invalid run.thread_count: %d", c.Run.ThreadCount)
	}
	if c.Run.LoopCount < 0 {
		return fmt.Errorf("invalid run.loop_count: %d (must be >= 0, 0 means infinite)", c.Run.LoopCount)
	}
	if c.Run.RunMode != "readonly" && c.Run.RunMode != "readwrite" {
		return fmt.Errorf("invalid run.run_mode: %s (must be readonly or readwrite)", c.Run.RunMode)
	}
	switch c.Run.ReadMode {
	case "fullline", "readline", "streamline":
	default:
		return fmt.Errorf("invalid run.read_mode: %s (must be fullline, readline, or streamline)", c.Run.ReadMode)
	}
	if c.Run.DynCCLimit < 0 {
		return fmt.Errorf("invalid run.dyn_cc_limit: %d (must be >= 0, 0 means unbounded)", c.Run.DynCCLimit)
	}
	switch c.Run.Reversibility {
	case "none", "structural", "resume":
	default:
		return fmt.Errorf("invalid run.reversibility: %s (must be none, structural, or resume)", c.Run.Reversibility)
	}

	switch c.State.Backend {
	case "file":
	case "postgres":
		if c.State.PostgresDSN == "" {
			return fmt.Errorf("state.postgres_dsn is required when state.backend is postgres")
		}
	default:
		return fmt.Errorf("invalid state.backend: %s (must be file or postgres)", c.State.Backend)
	}

	return nil
}

// resolveEnvString resolves environment variable references of the form
// "os.environ/VAR_NAME".
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
	}
	return value
}

func resolveEnvInt(value string, defaultValue int) (int, error) {
	if value == "" {
		return defaultValue, nil
	}
	resolved := resolveEnvString(value)
	v, err := strconv.Atoi(resolved)
	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse int from '%s': %w", resolved, err)
	}
	return v, nil
}

func resolveEnvBool(value string, defaultValue bool) (bool, error) {
	if value == "" {
		return defaultValue, nil
	}
	resolved := resolveEnvString(value)
	v, err := strconv.ParseBool(resolved)
	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse bool from '%s': %w", resolved, err)
	}
	return v, nil
}
