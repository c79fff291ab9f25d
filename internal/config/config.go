// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Evaluation configuration
	Eval EvalConfig `yaml:"eval"`

	// Retriever under test
	Retriever RetrieverConfig `yaml:"retriever"`

	// Synthetic dataset generation
	Generator GeneratorConfig `yaml:"generator"`

	// Language model backends
	LLM LLMConfig `yaml:"llm"`

	// Qdrant configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Results persistence
	Results ResultsConfig `yaml:"results"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `envconfig:"RICE_EVAL_HOST" yaml:"host"`
	Port int    `envconfig:"RICE_EVAL_PORT" yaml:"port"`

	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64 `envconfig:"RICE_EVAL_SERVER_RATE_LIMIT" yaml:"rate_limit"`
	Burst     int     `envconfig:"RICE_EVAL_SERVER_BURST" yaml:"burst"`
}

// EvalConfig holds evaluation settings.
type EvalConfig struct {
	Metrics       []string `envconfig:"RICE_EVAL_METRICS" yaml:"metrics"`
	Workers       int      `envconfig:"RICE_EVAL_WORKERS" yaml:"workers"`
	FailurePolicy string   `envconfig:"RICE_EVAL_FAILURE_POLICY" yaml:"failure_policy"` // fail_fast or continue
}

// RetrieverConfig selects and configures the retriever under test.
type RetrieverConfig struct {
	Type    string        `envconfig:"RICE_EVAL_RETRIEVER" yaml:"type"` // http, qdrant, static
	URL     string        `envconfig:"RICE_EVAL_RETRIEVER_URL" yaml:"url"`
	Store   string        `envconfig:"RICE_EVAL_RETRIEVER_STORE" yaml:"store"`
	TopK    int           `envconfig:"RICE_EVAL_TOP_K" yaml:"top_k"`
	IDField string        `envconfig:"RICE_EVAL_ID_FIELD" yaml:"id_field"`
	RunFile string        `envconfig:"RICE_EVAL_RUN_FILE" yaml:"run_file"`
	Timeout time.Duration `envconfig:"RICE_EVAL_RETRIEVER_TIMEOUT" yaml:"timeout"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `envconfig:"RICE_EVAL_RATE_LIMIT" yaml:"rate_limit"`
	Burst     int     `envconfig:"RICE_EVAL_RATE_BURST" yaml:"burst"`
}

// GeneratorConfig holds synthetic dataset generation settings.
type GeneratorConfig struct {
	Backend              string   `envconfig:"RICE_EVAL_GEN_BACKEND" yaml:"backend"` // openai, gemini
	Model                string   `envconfig:"RICE_EVAL_GEN_MODEL" yaml:"model"`
	QuestionsPerChunk    int      `envconfig:"RICE_EVAL_GEN_QUESTIONS" yaml:"questions_per_chunk"`
	MaxQuestions         int      `envconfig:"RICE_EVAL_GEN_MAX_QUESTIONS" yaml:"max_questions"`
	Concurrency          int      `envconfig:"RICE_EVAL_GEN_CONCURRENCY" yaml:"concurrency"`
	ChunkSize            int      `envconfig:"RICE_EVAL_CHUNK_SIZE" yaml:"chunk_size"`
	ChunkOverlap         int      `envconfig:"RICE_EVAL_CHUNK_OVERLAP" yaml:"chunk_overlap"`
	RequiredKeywords     []string `envconfig:"RICE_EVAL_REQUIRED_KEYWORDS" yaml:"required_keywords"`
	ExcludeKeywords      []string `envconfig:"RICE_EVAL_EXCLUDE_KEYWORDS" yaml:"exclude_keywords"`
	QuestionGenQuery     string   `envconfig:"RICE_EVAL_GEN_QUERY" yaml:"question_gen_query"`
	QuestionTemplatePath string   `envconfig:"RICE_EVAL_GEN_TEMPLATE" yaml:"question_template_path"`
}

// LLMConfig holds language model backend credentials.
type LLMConfig struct {
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" yaml:"openai_api_key"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" yaml:"openai_base_url"`
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" yaml:"gemini_api_key"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" yaml:"gemini_base_url"`

	EmbeddingBackend string `envconfig:"RICE_EVAL_EMBED_BACKEND" yaml:"embedding_backend"` // openai, gemini
	EmbeddingModel   string `envconfig:"RICE_EVAL_EMBED_MODEL" yaml:"embedding_model"`
	EmbeddingDims    int    `envconfig:"RICE_EVAL_EMBED_DIMS" yaml:"embedding_dims"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string        `envconfig:"QDRANT_HOST" yaml:"host"`
	Port       int           `envconfig:"QDRANT_PORT" yaml:"port"`
	APIKey     string        `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
	UseTLS     bool          `envconfig:"QDRANT_USE_TLS" yaml:"use_tls"`
	Collection string        `envconfig:"QDRANT_COLLECTION" yaml:"collection"`
	Vector     string        `envconfig:"QDRANT_VECTOR" yaml:"vector"`
	Timeout    time.Duration `envconfig:"QDRANT_TIMEOUT" yaml:"timeout"`
}

// ResultsConfig holds evaluation run persistence settings.
type ResultsConfig struct {
	Type     string        `envconfig:"RICE_EVAL_RESULTS" yaml:"type"` // none, file, redis
	Dir      string        `envconfig:"RICE_EVAL_RESULTS_DIR" yaml:"dir"`
	RedisURL string        `envconfig:"RICE_EVAL_REDIS_URL" yaml:"redis_url"`
	TTL      time.Duration `envconfig:"RICE_EVAL_RESULTS_TTL" yaml:"ttl"` // 0 = no expiry
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RICE_EVAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RICE_EVAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup   string `envconfig:"RICE_EVAL_KAFKA_GROUP" yaml:"kafka_group"`

	// JournalPath appends every published event to a JSON lines file when set.
	JournalPath string `envconfig:"RICE_EVAL_EVENT_JOURNAL" yaml:"journal_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RICE_EVAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RICE_EVAL_LOG_FORMAT" yaml:"format"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"RICE_EVAL_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"RICE_EVAL_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Server = ServerConfig{
		Host:  "0.0.0.0",
		Port:  8090,
		Burst: 20,
	}

	cfg.Eval = EvalConfig{
		Metrics:       []string{"hit_rate", "mrr"},
		Workers:       2,
		FailurePolicy: "fail_fast",
	}

	cfg.Retriever = RetrieverConfig{
		Type:    "http",
		URL:     "http://localhost:8080",
		Store:   "default",
		TopK:    10,
		Timeout: 30 * time.Second,
		Burst:   1,
	}

	cfg.Generator = GeneratorConfig{
		Backend:           "openai",
		Model:             "gpt-4o-mini",
		QuestionsPerChunk: 10,
		Concurrency:       4,
		ChunkSize:         512,
		ChunkOverlap:      64,
	}

	cfg.LLM = LLMConfig{
		EmbeddingBackend: "openai",
		EmbeddingModel:   "text-embedding-3-small",
	}

	cfg.Qdrant = QdrantConfig{
		Host:    "localhost",
		Port:    6334,
		Vector:  "dense",
		Timeout: 30 * time.Second,
	}

	cfg.Results = ResultsConfig{
		Type:     "none",
		Dir:      "./runs",
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server rate_limit must not be negative")
	}

	// Evaluation validation
	if c.Eval.Workers < 1 {
		errs = append(errs, "eval workers must be positive")
	}
	if len(c.Eval.Metrics) == 0 {
		errs = append(errs, "at least one eval metric is required")
	}
	validPolicies := map[string]bool{"fail_fast": true, "continue": true}
	if !validPolicies[c.Eval.FailurePolicy] {
		errs = append(errs, fmt.Sprintf("invalid failure policy: %s (must be fail_fast or continue)", c.Eval.FailurePolicy))
	}

	// Retriever validation
	validRetrievers := map[string]bool{"http": true, "qdrant": true, "static": true}
	if !validRetrievers[c.Retriever.Type] {
		errs = append(errs, fmt.Sprintf("invalid retriever type: %s (must be http, qdrant, or static)", c.Retriever.Type))
	}
	if c.Retriever.TopK < 1 {
		errs = append(errs, "retriever top_k must be positive")
	}
	if c.Retriever.RateLimit < 0 {
		errs = append(errs, "retriever rate_limit must not be negative")
	}
	if c.Retriever.Type == "static" && c.Retriever.RunFile == "" {
		errs = append(errs, "static retriever requires run_file")
	}
	if c.Retriever.Type == "qdrant" && c.Qdrant.Collection == "" {
		errs = append(errs, "qdrant retriever requires qdrant.collection")
	}

	// Generator validation
	validBackends := map[string]bool{"openai": true, "gemini": true}
	if !validBackends[c.Generator.Backend] {
		errs = append(errs, fmt.Sprintf("invalid generator backend: %s (must be openai or gemini)", c.Generator.Backend))
	}
	if !validBackends[c.LLM.EmbeddingBackend] {
		errs = append(errs, fmt.Sprintf("invalid embedding backend: %s (must be openai or gemini)", c.LLM.EmbeddingBackend))
	}
	if c.LLM.EmbeddingDims < 0 {
		errs = append(errs, "embedding_dims must not be negative")
	}
	if c.Generator.QuestionsPerChunk < 1 {
		errs = append(errs, "questions_per_chunk must be positive")
	}
	if c.Generator.Concurrency < 1 {
		errs = append(errs, "generator concurrency must be positive")
	}
	if c.Generator.ChunkSize < 16 {
		errs = append(errs, "chunk_size must be at least 16")
	}
	if c.Generator.ChunkOverlap < 0 || c.Generator.ChunkOverlap >= c.Generator.ChunkSize {
		errs = append(errs, "chunk_overlap must be non-negative and less than chunk_size")
	}

	// Results validation
	validResults := map[string]bool{"none": true, "file": true, "redis": true}
	if !validResults[c.Results.Type] {
		errs = append(errs, fmt.Sprintf("invalid results type: %s (must be none, file, or redis)", c.Results.Type))
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
