package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jedisct1/inferswitch/internal/availability"
	"github.com/jedisct1/inferswitch/internal/middleware"
	"github.com/jedisct1/inferswitch/internal/routing"
	"github.com/jedisct1/inferswitch/internal/security"
	"github.com/jedisct1/inferswitch/internal/server"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backends   []BackendConfig  `yaml:"backends"`
	Routing    RoutingConfig    `yaml:"routing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
	Validation ValidationConfig `yaml:"validation"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`

	// ProxyMode dispatches requests to the selected backend. When off,
	// the server answers with a canned reply after routing, which is
	// useful for validating a routing policy without spending tokens.
	ProxyMode bool `yaml:"proxy_mode"`
}

// BackendConfig declares one backend. An empty model list marks the
// backend as dynamic: it accepts any model name.
type BackendConfig struct {
	Name   string   `yaml:"name"`
	Models []string `yaml:"models"`
}

// ModelList accepts either a single model name or a list of names in
// YAML; a bare string is promoted to a one-element list.
type ModelList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *ModelList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*m = ModelList{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*m = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a model name or a list of model names", value.Line)
	}
}

// DifficultyRangeConfig pairs a raw range key with its candidate list.
type DifficultyRangeConfig struct {
	Range  string
	Models ModelList
}

// DifficultyRanges preserves the document order of the difficulty
// mapping; range precedence follows the order ranges are written in
// the file.
type DifficultyRanges []DifficultyRangeConfig

// UnmarshalYAML implements yaml.Unmarshaler over the mapping node
// directly so key order survives.
func (d *DifficultyRanges) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: difficulty_models must be a mapping of ranges to models", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		var models ModelList
		if err := value.Content[i+1].Decode(&models); err != nil {
			return err
		}
		*d = append(*d, DifficultyRangeConfig{Range: key, Models: models})
	}
	return nil
}

// RoutingConfig holds the routing policy as written by the operator
type RoutingConfig struct {
	ModelOverrides   map[string]string    `yaml:"model_overrides"`
	DifficultyModels DifficultyRanges     `yaml:"difficulty_models"`
	ExpertModels     map[string]ModelList `yaml:"expert_models"`
	ExpertiseModels  map[string]ModelList `yaml:"expertise_models"`
	ModelProviders   map[string]string    `yaml:"model_providers"`

	FallbackBackend string `yaml:"fallback_backend"`
	FallbackModel   string `yaml:"fallback_model"`
	Backend         string `yaml:"backend"`

	ForceDifficultyRouting bool `yaml:"force_difficulty_routing"`
	ForceExpertRouting     bool `yaml:"force_expert_routing"`
	ForceExpertiseRouting  bool `yaml:"force_expertise_routing"`

	ModelDisableDurationSeconds int `yaml:"model_disable_duration_seconds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	APIKeys      []string        `yaml:"api_keys"`
	JWTSecret    string          `yaml:"jwt_secret"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
	CORS         CORSConfig      `yaml:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_minute"`
	BurstSize      int           `yaml:"burst_size"`
	WindowDuration time.Duration `yaml:"window_duration"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// ValidationConfig controls OpenAPI request validation
type ValidationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SpecPath string `yaml:"spec_path"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "1235",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   300 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		ProxyMode:      true,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Routing = RoutingConfig{
		ModelDisableDurationSeconds: int(availability.DefaultDisableDuration / time.Second),
	}

	c.Validation = ValidationConfig{
		Enabled:  false,
		SpecPath: "docs/openapi.yaml",
	}

	c.Security = SecurityConfig{
		RateLimiting: RateLimitConfig{
			Enabled:        false,
			RequestsPerMin: 60,
			BurstSize:      10,
			WindowDuration: time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key", "Anthropic-Version", "X-Backend"},
		},
	}
}

// loadFromFile loads configuration from YAML file
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	if port := os.Getenv("INFERSWITCH_PORT"); port != "" {
		c.Server.Port = port
	}
	if level := os.Getenv("INFERSWITCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("INFERSWITCH_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if proxy := os.Getenv("INFERSWITCH_PROXY_MODE"); proxy != "" {
		c.Server.ProxyMode = parseBool(proxy)
	}

	if backend := os.Getenv("INFERSWITCH_BACKEND"); backend != "" {
		c.Routing.Backend = backend
	}
	if override := os.Getenv("INFERSWITCH_MODEL_OVERRIDE"); override != "" {
		if c.Routing.ModelOverrides == nil {
			c.Routing.ModelOverrides = make(map[string]string)
		}
		// "from:to" adds one override; a bare model name overrides
		// every request.
		if from, to, ok := strings.Cut(override, ":"); ok {
			c.Routing.ModelOverrides[from] = to
		} else {
			c.Routing.ModelOverrides["*"] = override
		}
	}
	if model := os.Getenv("INFERSWITCH_DEFAULT_MODEL"); model != "" {
		c.Routing.FallbackModel = model
	}
	if provider := os.Getenv("INFERSWITCH_FALLBACK_PROVIDER"); provider != "" {
		c.Routing.FallbackBackend = provider
	}
	if model := os.Getenv("INFERSWITCH_FALLBACK_MODEL"); model != "" {
		c.Routing.FallbackModel = model
	}
	if v := os.Getenv("INFERSWITCH_FORCE_DIFFICULTY_ROUTING"); v != "" {
		c.Routing.ForceDifficultyRouting = parseBool(v)
	}
	if v := os.Getenv("INFERSWITCH_FORCE_EXPERT_ROUTING"); v != "" {
		c.Routing.ForceExpertRouting = parseBool(v)
	}
	if v := os.Getenv("INFERSWITCH_FORCE_EXPERTISE_ROUTING"); v != "" {
		c.Routing.ForceExpertiseRouting = parseBool(v)
	}
	if v := os.Getenv("INFERSWITCH_MODEL_DISABLE_DURATION"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			c.Routing.ModelDisableDurationSeconds = seconds
		}
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	declared := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend name cannot be empty")
		}
		if declared[b.Name] {
			return fmt.Errorf("backend %q declared twice", b.Name)
		}
		declared[b.Name] = true
	}

	if len(c.Backends) > 0 {
		for model, provider := range c.Routing.ModelProviders {
			if !declared[provider] {
				return fmt.Errorf("model %q maps to undeclared backend %q", model, provider)
			}
		}
		if c.Routing.FallbackBackend != "" && !declared[c.Routing.FallbackBackend] {
			return fmt.Errorf("fallback backend %q is not declared", c.Routing.FallbackBackend)
		}
		if c.Routing.Backend != "" && !declared[c.Routing.Backend] {
			return fmt.Errorf("pinned backend %q is not declared", c.Routing.Backend)
		}
	}

	for _, r := range c.Routing.DifficultyModels {
		if _, _, err := parseRange(r.Range); err != nil {
			return err
		}
		if len(r.Models) == 0 {
			return fmt.Errorf("difficulty range %q has no models", r.Range)
		}
	}
	for expert, models := range c.Routing.ExpertModels {
		if len(models) == 0 {
			return fmt.Errorf("expert %q has no models", expert)
		}
	}
	for tag, models := range c.Routing.ExpertiseModels {
		if len(models) == 0 {
			return fmt.Errorf("expertise %q has no models", tag)
		}
	}

	return nil
}

// parseRange parses a difficulty range key. Accepted forms: "0-2",
// "[0,2]" and a single number "3", which means the degenerate range
// [3,3]. Bounds are inclusive.
func parseRange(key string) (float64, float64, error) {
	s := strings.TrimSpace(key)
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		return parseRangeParts(key, strings.Split(s, ","))
	}
	// A leading minus would make "-" ambiguous; scores are
	// non-negative so a dash is always a separator.
	if strings.Contains(s, "-") {
		return parseRangeParts(key, strings.SplitN(s, "-", 2))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid difficulty range %q", key)
	}
	return v, v, nil
}

func parseRangeParts(key string, parts []string) (float64, float64, error) {
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid difficulty range %q", key)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid difficulty range %q", key)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid difficulty range %q", key)
	}
	if max < min {
		return 0, 0, fmt.Errorf("difficulty range %q is inverted", key)
	}
	return min, max, nil
}

// BuildPolicy converts the raw routing section into the immutable
// policy the router consumes. Expertise keys are lowercased so tag
// matching is case-insensitive.
func (c *Config) BuildPolicy() (*routing.Policy, error) {
	policy := &routing.Policy{
		ModelOverrides:  make(map[string]string, len(c.Routing.ModelOverrides)),
		ExpertModels:    make(map[string][]string, len(c.Routing.ExpertModels)),
		ExpertiseModels: make(map[string][]string, len(c.Routing.ExpertiseModels)),
		ModelProviders:  make(map[string]string, len(c.Routing.ModelProviders)),
		FallbackBackend: c.Routing.FallbackBackend,
		FallbackModel:   c.Routing.FallbackModel,
		ActiveBackend:   c.Routing.Backend,
		ForceDifficulty: c.Routing.ForceDifficultyRouting,
		ForceExpert:     c.Routing.ForceExpertRouting,
		ForceExpertise:  c.Routing.ForceExpertiseRouting,
	}

	for from, to := range c.Routing.ModelOverrides {
		policy.ModelOverrides[from] = to
	}
	for model, provider := range c.Routing.ModelProviders {
		policy.ModelProviders[model] = provider
	}
	for expert, models := range c.Routing.ExpertModels {
		policy.ExpertModels[expert] = models
	}
	for tag, models := range c.Routing.ExpertiseModels {
		policy.ExpertiseModels[strings.ToLower(tag)] = models
	}

	for _, r := range c.Routing.DifficultyModels {
		min, max, err := parseRange(r.Range)
		if err != nil {
			return nil, err
		}
		policy.DifficultyModels = append(policy.DifficultyModels, routing.DifficultyRange{
			Min:    min,
			Max:    max,
			Models: r.Models,
		})
	}

	return policy, nil
}

// DisableDuration returns the configured model disable duration.
func (c *Config) DisableDuration() time.Duration {
	if c.Routing.ModelDisableDurationSeconds <= 0 {
		return availability.DefaultDisableDuration
	}
	return time.Duration(c.Routing.ModelDisableDurationSeconds) * time.Second
}

// ToAuthConfig converts to the auth provider's configuration.
func (c *Config) ToAuthConfig() *security.Config {
	return &security.Config{
		APIKeys:        c.Security.APIKeys,
		JWTSecret:      c.Security.JWTSecret,
		RequireAuth:    len(c.Security.APIKeys) > 0 || c.Security.JWTSecret != "",
		AllowedOrigins: c.Security.CORS.AllowedOrigins,
	}
}

// ToRateLimitConfig converts to the rate limiter's configuration.
func (c *Config) ToRateLimitConfig() *security.RateLimitConfig {
	return &security.RateLimitConfig{
		Enabled:           c.Security.RateLimiting.Enabled,
		RequestsPerMinute: c.Security.RateLimiting.RequestsPerMin,
		BurstSize:         c.Security.RateLimiting.BurstSize,
		WindowDuration:    c.Security.RateLimiting.WindowDuration,
	}
}

// ToServerConfig assembles the server's configuration, including the
// middleware stack derived from the security and validation sections.
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:               c.Server.Port,
		ReadTimeout:        c.Server.ReadTimeout,
		WriteTimeout:       c.Server.WriteTimeout,
		MaxHeaderBytes:     c.Server.MaxHeaderBytes,
		ProxyMode:          c.Server.ProxyMode,
		CORSAllowedOrigins: c.Security.CORS.AllowedOrigins,
		Security: &middleware.SecurityMiddlewareConfig{
			Auth:      c.ToAuthConfig(),
			RateLimit: c.ToRateLimitConfig(),
		},
		Validation: &middleware.ValidationConfig{
			Enabled:  c.Validation.Enabled,
			SpecPath: c.Validation.SpecPath,
		},
	}
}
