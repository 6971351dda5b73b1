// Package config provides configuration management for Trellis.
// It loads settings from environment variables with the TRELLIS_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration settings for the Trellis application.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Graph     GraphConfig
	Embedding EmbeddingConfig
	Ingest    IngestConfig
	Security  SecurityConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6380)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains graph, vector, and catalog store configuration.
type StorageConfig struct {
	Neo4jURI      string // Neo4j bolt URI (default: bolt://localhost:7687)
	Neo4jUser     string // Neo4j username (default: neo4j)
	Neo4jPassword string // Neo4j password
	PostgresDSN   string // Postgres DSN for the vector index; empty disables it
	CatalogPath   string // Path to the SQLite ingest catalog (default: ./data/catalog.db)
}

// GraphConfig contains knowledge-graph construction settings.
type GraphConfig struct {
	MinConfidence       float64       // Extraction confidence floor (default: 0.3)
	SimilarityThreshold float64       // Cosine threshold for concept clusters (default: 0.7)
	ActiveWindow        time.Duration // Recency window for temporal scoring (default: 168h)
	NumWorkers          int           // Concurrent extraction workers (default: 4)
	PatternFile         string        // Optional YAML file with extra extraction rules
}

// EmbeddingConfig contains embedding provider configuration. Trellis never
// computes vectors itself; it calls out to Ollama for them.
type EmbeddingConfig struct {
	OllamaURL   string        // Ollama API URL (default: http://localhost:11434)
	OllamaModel string        // Ollama embedding model (default: nomic-embed-text)
	Dimension   int           // Embedding vector dimension (default: 768 for nomic-embed-text)
	Timeout     time.Duration // Per-request timeout (default: 30s)
	Enabled     bool          // Enable embedding calls (default: true)
}

// IngestConfig contains document ingestion settings.
type IngestConfig struct {
	Roots      []string // Directories to scan for documents (default: ./docs)
	Extensions []string // File extensions to ingest (default: .txt,.md)
	ChunkSize  int      // Target chunk size in characters (default: 1200)
	Overlap    int      // Overlap between adjacent chunks in characters (default: 100)
	Watch      bool     // Watch roots for changes after the initial scan (default: false)
}

// SecurityConfig contains security and rate-limit settings.
type SecurityConfig struct {
	SecurityMode string  // Security mode: development, production (default: development)
	APIToken     string  // API authentication token
	RateLimit    float64 // Requests per second per client (default: 20)
	RateBurst    int     // Burst size for the rate limiter (default: 40)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the TRELLIS_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("TRELLIS_PORT", 6380),
			Host: getEnv("TRELLIS_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			Neo4jURI:      getEnv("TRELLIS_NEO4J_URI", "bolt://localhost:7687"),
			Neo4jUser:     getEnv("TRELLIS_NEO4J_USER", "neo4j"),
			Neo4jPassword: getEnv("TRELLIS_NEO4J_PASSWORD", ""),
			PostgresDSN:   getEnv("TRELLIS_POSTGRES_DSN", ""),
			CatalogPath:   getEnv("TRELLIS_CATALOG_PATH", "./data/catalog.db"),
		},
		Graph: GraphConfig{
			MinConfidence:       getEnvFloat("TRELLIS_MIN_CONFIDENCE", 0.3),
			SimilarityThreshold: getEnvFloat("TRELLIS_SIMILARITY_THRESHOLD", 0.7),
			ActiveWindow:        getEnvDuration("TRELLIS_ACTIVE_WINDOW", 7*24*time.Hour),
			NumWorkers:          getEnvInt("TRELLIS_NUM_WORKERS", 4),
			PatternFile:         getEnv("TRELLIS_PATTERN_FILE", ""),
		},
		Embedding: EmbeddingConfig{
			OllamaURL:   getEnv("TRELLIS_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel: getEnv("TRELLIS_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimension:   getEnvInt("TRELLIS_EMBEDDING_DIMENSION", 768),
			Timeout:     getEnvDuration("TRELLIS_EMBEDDING_TIMEOUT", 30*time.Second),
			Enabled:     getEnvBool("TRELLIS_EMBEDDING_ENABLED", true),
		},
		Ingest: IngestConfig{
			Roots:      getEnvList("TRELLIS_INGEST_ROOTS", []string{"./docs"}),
			Extensions: getEnvList("TRELLIS_INGEST_EXTENSIONS", []string{".txt", ".md"}),
			ChunkSize:  getEnvInt("TRELLIS_CHUNK_SIZE", 1200),
			Overlap:    getEnvInt("TRELLIS_CHUNK_OVERLAP", 100),
			Watch:      getEnvBool("TRELLIS_WATCH", false),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("TRELLIS_SECURITY_MODE", "development"),
			APIToken:     getEnv("TRELLIS_API_TOKEN", ""),
			RateLimit:    getEnvFloat("TRELLIS_RATE_LIMIT", 20),
			RateBurst:    getEnvInt("TRELLIS_RATE_BURST", 40),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that the per-variable parsing
// cannot catch.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Graph.MinConfidence < 0 || c.Graph.MinConfidence > 1 {
		return fmt.Errorf("config: MinConfidence must be in [0,1], got %f", c.Graph.MinConfidence)
	}
	if c.Graph.NumWorkers < 1 {
		return fmt.Errorf("config: NumWorkers must be >= 1, got %d", c.Graph.NumWorkers)
	}
	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("config: ChunkSize must be >= 1, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.Overlap < 0 || c.Ingest.Overlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("config: Overlap must be in [0, ChunkSize), got %d", c.Ingest.Overlap)
	}
	if c.Embedding.Enabled && c.Embedding.Dimension < 1 {
		return fmt.Errorf("config: embedding Dimension must be >= 1, got %d", c.Embedding.Dimension)
	}
	if c.Security.SecurityMode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: TRELLIS_API_TOKEN is required in production mode")
	}
	if c.Security.RateLimit <= 0 {
		return fmt.Errorf("config: RateLimit must be > 0, got %f", c.Security.RateLimit)
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go duration
// syntax, e.g. "30s", "168h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable as a slice,
// trimming whitespace around each element.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
