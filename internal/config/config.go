// Package config provides configuration loading for the askdocs server.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Engine defaults. All values can be overridden per instance via Config.
const (
	DefaultChunkSize    = 2500
	DefaultChunkOverlap = 400
	DefaultRetrieverK   = 5
	DefaultFetchK       = 10
	DefaultMaxUploadMiB = 10
	DefaultChatModel    = "llama-3.3-70b-versatile"
	DefaultChatBaseURL  = "https://api.groq.com/openai/v1"
)

// Config holds all configuration for the application.
type Config struct {
	Server Server `yaml:"server"`
	Qdrant Qdrant `yaml:"qdrant"`
	OpenAI OpenAI `yaml:"openai"`
	Chat   Chat   `yaml:"chat"`
	Engine Engine `yaml:"engine"`
	Auth   Auth   `yaml:"auth"`

	// DataDir is the root for per-user upload directories and the
	// metadata database. Defaults to ./data.
	DataDir string `yaml:"data_dir"`
}

// Server holds HTTP server settings.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Qdrant holds vector store connection settings.
type Qdrant struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OpenAI holds embedding API settings.
type OpenAI struct {
	APIKey string `yaml:"api_key"`
}

// Chat holds answer-generation settings. BaseURL defaults to the Groq
// OpenAI-compatible endpoint used by the chat model.
type Chat struct {
	APIKey  string  `yaml:"api_key"`
	BaseURL string  `yaml:"base_url"`
	Model   string  `yaml:"model"`
	Temp    float64 `yaml:"temperature"`
}

// Engine holds RAG pipeline parameters.
type Engine struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	RetrieverK   int `yaml:"retriever_k"`
	FetchK       int `yaml:"fetch_k"`
	MaxUploadMiB int `yaml:"max_upload_mib"`
}

// Auth holds JWT settings.
type Auth struct {
	JWTSecret   string `yaml:"jwt_secret"`
	TokenTTLHrs int    `yaml:"token_ttl_hours"`
}

// Default returns a Config populated with defaults and environment
// overrides applied.
func Default() *Config {
	cfg := &Config{
		Server:  Server{Host: "0.0.0.0", Port: 8080},
		Qdrant:  Qdrant{Host: "localhost", Port: 6334},
		Chat:    Chat{BaseURL: DefaultChatBaseURL, Model: DefaultChatModel, Temp: 0.2},
		Engine:  Engine{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap, RetrieverK: DefaultRetrieverK, FetchK: DefaultFetchK, MaxUploadMiB: DefaultMaxUploadMiB},
		Auth:    Auth{TokenTTLHrs: 24},
		DataDir: "data",
	}
	cfg.applyEnv()
	return cfg
}

// Load reads config from a YAML file, applies defaults for unset fields,
// then applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:  Server{Host: "0.0.0.0", Port: 8080},
		Qdrant:  Qdrant{Host: "localhost", Port: 6334},
		Chat:    Chat{BaseURL: DefaultChatBaseURL, Model: DefaultChatModel, Temp: 0.2},
		Engine:  Engine{ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap, RetrieverK: DefaultRetrieverK, FetchK: DefaultFetchK, MaxUploadMiB: DefaultMaxUploadMiB},
		Auth:    Auth{TokenTTLHrs: 24},
		DataDir: "data",
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.Qdrant.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Qdrant.Port = i
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		c.Chat.APIKey = v
	}
	if v := os.Getenv("ASKDOCS_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ASKDOCS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("ASKDOCS_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			c.Server.Port = i
		}
	}
}

func (c *Config) validate() error {
	if c.Engine.ChunkOverlap >= c.Engine.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Engine.ChunkOverlap, c.Engine.ChunkSize)
	}
	if c.Engine.RetrieverK <= 0 {
		return fmt.Errorf("retriever_k must be positive, got %d", c.Engine.RetrieverK)
	}
	if c.Engine.FetchK < c.Engine.RetrieverK {
		return fmt.Errorf("fetch_k (%d) must be >= retriever_k (%d)",
			c.Engine.FetchK, c.Engine.RetrieverK)
	}
	return nil
}
