package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/reporag/internal/chunker"
	"github.com/dshills/reporag/internal/completion"
	"github.com/dshills/reporag/internal/embedder"
	"github.com/dshills/reporag/internal/indexer"
	"github.com/dshills/reporag/internal/retriever"
	"github.com/dshills/reporag/internal/storage"
)

// DefaultDBPath is the SQLite index used when nothing else is configured
const DefaultDBPath = "~/.reporag/index.db"

// EnvPrefix prefixes every environment override
const EnvPrefix = "REPORAG_"

// Configuration errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownFormat = errors.New("unknown config file format")
)

// Config is the full application configuration
type Config struct {
	Chunker    ChunkerConfig    `yaml:"chunker" toml:"chunker"`
	Indexer    IndexerConfig    `yaml:"indexer" toml:"indexer"`
	Retriever  RetrieverConfig  `yaml:"retriever" toml:"retriever"`
	Embedder   EmbedderConfig   `yaml:"embedder" toml:"embedder"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Log        LogConfig        `yaml:"log" toml:"log"`
}

type ChunkerConfig struct {
	ChunkSize  int      `yaml:"chunk_size" toml:"chunk_size"`
	Overlap    int      `yaml:"overlap" toml:"overlap"`
	Extensions []string `yaml:"extensions" toml:"extensions"`
}

type IndexerConfig struct {
	BatchSize     int  `yaml:"batch_size" toml:"batch_size"`
	Workers       int  `yaml:"workers" toml:"workers"`
	SkipUnchanged bool `yaml:"skip_unchanged" toml:"skip_unchanged"`
}

type RetrieverConfig struct {
	TopK      int           `yaml:"top_k" toml:"top_k"`
	CacheSize int           `yaml:"cache_size" toml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
}

type EmbedderConfig struct {
	Provider   string        `yaml:"provider" toml:"provider"`
	Model      string        `yaml:"model" toml:"model"`
	APIKey     string        `yaml:"api_key" toml:"api_key"`
	BaseURL    string        `yaml:"base_url" toml:"base_url"`
	Dimension  int           `yaml:"dimension" toml:"dimension"`
	Timeout    time.Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries int           `yaml:"max_retries" toml:"max_retries"`
}

type CompletionConfig struct {
	Provider    string        `yaml:"provider" toml:"provider"`
	Model       string        `yaml:"model" toml:"model"`
	APIKey      string        `yaml:"api_key" toml:"api_key"`
	BaseURL     string        `yaml:"base_url" toml:"base_url"`
	Temperature float64       `yaml:"temperature" toml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens" toml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// CacheConfig configures the embedding cache. RedisURL wins over Size.
type CacheConfig struct {
	Size     int           `yaml:"size" toml:"size"`
	RedisURL string        `yaml:"redis_url" toml:"redis_url"`
	TTL      time.Duration `yaml:"ttl" toml:"ttl"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr" toml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text or json
}

// Default returns the configuration used when no file or environment
// override is present
func Default() *Config {
	return &Config{
		Chunker: ChunkerConfig{
			ChunkSize:  chunker.DefaultChunkSize,
			Overlap:    chunker.DefaultOverlap,
			Extensions: append([]string(nil), chunker.DefaultExtensions...),
		},
		Indexer: IndexerConfig{
			BatchSize:     indexer.DefaultBatchSize,
			SkipUnchanged: true,
		},
		Retriever: RetrieverConfig{
			TopK:     retriever.DefaultTopK,
			CacheTTL: time.Hour,
		},
		Embedder: EmbedderConfig{
			Provider:   embedder.ProviderLocal,
			Timeout:    embedder.DefaultTimeout,
			MaxRetries: 3,
		},
		Completion: CompletionConfig{
			Provider:    completion.ProviderGemini,
			Temperature: completion.DefaultTemperature,
			MaxTokens:   completion.DefaultMaxTokens,
		},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			Path:   DefaultDBPath,
		},
		Cache: CacheConfig{
			Size: embedder.DefaultCacheSize,
			TTL:  24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the optional file at path, a .env file
// in the working directory and the environment, in that order. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Values already in the environment win over .env
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	return nil
}

// Save writes the configuration to path, creating parent directories.
// The format follows the file extension.
func (c *Config) Save(path string) error {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = out
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setList(&c.Chunker.Extensions, "CHUNKER_EXTENSIONS")
	setInt(&c.Chunker.ChunkSize, "CHUNK_SIZE")
	setInt(&c.Chunker.Overlap, "CHUNK_OVERLAP")

	setInt(&c.Indexer.BatchSize, "BATCH_SIZE")
	setInt(&c.Indexer.Workers, "WORKERS")
	setBool(&c.Indexer.SkipUnchanged, "SKIP_UNCHANGED")

	setInt(&c.Retriever.TopK, "TOP_K")
	setInt(&c.Retriever.CacheSize, "RETRIEVER_CACHE_SIZE")

	if v := os.Getenv(embedder.EnvProvider); v != "" {
		c.Embedder.Provider = v
	}
	setStr(&c.Embedder.Model, "EMBEDDING_MODEL")
	setStr(&c.Embedder.APIKey, "EMBEDDING_API_KEY")
	setStr(&c.Embedder.BaseURL, "EMBEDDING_BASE_URL")
	setInt(&c.Embedder.Dimension, "EMBEDDING_DIMENSION")

	setStr(&c.Completion.Provider, "COMPLETION_PROVIDER")
	setStr(&c.Completion.Model, "COMPLETION_MODEL")
	setStr(&c.Completion.APIKey, "COMPLETION_API_KEY")
	setStr(&c.Completion.BaseURL, "COMPLETION_BASE_URL")

	setStr(&c.Storage.Driver, "STORAGE_DRIVER")
	setStr(&c.Storage.Path, "DB_PATH")
	setStr(&c.Storage.DSN, "DATABASE_URL")

	setStr(&c.Cache.RedisURL, "REDIS_URL")

	setStr(&c.Server.Addr, "HTTP_ADDR")
	setStr(&c.Log.Level, "LOG_LEVEL")
	setStr(&c.Log.Format, "LOG_FORMAT")

	// Provider-standard variables fill in what is still missing
	if c.Embedder.APIKey == "" {
		c.Embedder.APIKey = providerKey(c.Embedder.Provider)
	}
	if c.Completion.APIKey == "" {
		c.Completion.APIKey = providerKey(c.Completion.Provider)
	}
	if v := os.Getenv(embedder.EnvOllamaURL); v != "" {
		if c.Embedder.BaseURL == "" && strings.EqualFold(c.Embedder.Provider, embedder.ProviderOllama) {
			c.Embedder.BaseURL = v
		}
		if c.Completion.BaseURL == "" && strings.EqualFold(c.Completion.Provider, completion.ProviderOllama) {
			c.Completion.BaseURL = v
		}
	}
}

func providerKey(provider string) string {
	switch strings.ToLower(provider) {
	case embedder.ProviderOpenAI:
		return os.Getenv(embedder.EnvOpenAIAPIKey)
	case embedder.ProviderJina:
		return os.Getenv(embedder.EnvJinaAPIKey)
	case embedder.ProviderGemini:
		return os.Getenv(embedder.EnvGeminiAPIKey)
	}
	return ""
}

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

// setList splits a comma separated list
func setList(dst *[]string, key string) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate reports the first inconsistent setting
func (c *Config) Validate() error {
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunker.chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: chunker.overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("%w: indexer.batch_size must be positive", ErrInvalidConfig)
	}
	if c.Indexer.BatchSize > embedder.MaxBatchSize {
		return fmt.Errorf("%w: indexer.batch_size exceeds %d", ErrInvalidConfig, embedder.MaxBatchSize)
	}
	if c.Retriever.TopK <= 0 {
		return fmt.Errorf("%w: retriever.top_k must be positive", ErrInvalidConfig)
	}
	if !contains(embedder.SupportedProviders(), c.Embedder.Provider) {
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedder.Provider)
	}
	if c.Completion.Provider != "" && !contains(completion.SupportedProviders(), c.Completion.Provider) {
		return fmt.Errorf("%w: unknown completion provider %q", ErrInvalidConfig, c.Completion.Provider)
	}
	switch strings.ToLower(c.Storage.Driver) {
	case storage.DriverSQLite, "":
	case storage.DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// IndexerConfig returns the indexing pipeline settings
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		BatchSize:     c.Indexer.BatchSize,
		Workers:       c.Indexer.Workers,
		Extensions:    c.Chunker.Extensions,
		SkipUnchanged: c.Indexer.SkipUnchanged,
		ChunkSize:     c.Chunker.ChunkSize,
		Overlap:       c.Chunker.Overlap,
	}
}

func (c *Config) RetrieverConfig() retriever.Config {
	return retriever.Config{
		DefaultTopK: c.Retriever.TopK,
		CacheSize:   c.Retriever.CacheSize,
		CacheTTL:    c.Retriever.CacheTTL,
	}
}

func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:   c.Embedder.Provider,
		APIKey:     c.Embedder.APIKey,
		BaseURL:    c.Embedder.BaseURL,
		Model:      c.Embedder.Model,
		Dimension:  c.Embedder.Dimension,
		Timeout:    c.Embedder.Timeout,
		MaxRetries: c.Embedder.MaxRetries,
		CacheSize:  c.Cache.Size,
		RedisURL:   c.Cache.RedisURL,
		CacheTTL:   c.Cache.TTL,
	}
}

func (c *Config) CompletionConfig() completion.Config {
	return completion.Config{
		Provider:    c.Completion.Provider,
		APIKey:      c.Completion.APIKey,
		BaseURL:     c.Completion.BaseURL,
		Model:       c.Completion.Model,
		Temperature: c.Completion.Temperature,
		MaxTokens:   c.Completion.MaxTokens,
		Timeout:     c.Completion.Timeout,
	}
}

// StorageConfig returns the storage settings with ~ expanded in the path
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Driver: c.Storage.Driver,
		Path:   expandHome(c.Storage.Path),
		DSN:    c.Storage.DSN,
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
