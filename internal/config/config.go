package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vbonduro/imgprompt/internal/vision"
)

type Config struct {
	ListenAddr     string
	VisionBackend  string
	GeminiAPIKey   string
	GeminiModel    string
	ClaudeAPIKey   string
	ClaudeModel    string
	OllamaHost     string
	OllamaModel    string
	PreviewBackend string
	PreviewPath    string
	SessionIdleTTL time.Duration
	LogLevel       string
	LogFormat      string
	LogFile        string
}

// Load reads configuration from the environment. Values from an optional
// .env file (ENV_FILE, default ".env") and an optional YAML file
// (IMGPROMPT_CONFIG) fill in variables the process environment leaves
// unset; the process environment always wins.
func Load() (*Config, error) {
	envFile := getEnv(os.LookupEnv, "ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	lookup := os.LookupEnv
	if path, ok := os.LookupEnv("IMGPROMPT_CONFIG"); ok && path != "" {
		values, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		lookup = func(key string) (string, bool) {
			if val, ok := os.LookupEnv(key); ok {
				return val, true
			}
			val, ok := values[key]
			return val, ok
		}
	}

	return fromLookup(lookup)
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	ttl, err := time.ParseDuration(getEnv(lookup, "SESSION_IDLE_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_IDLE_TTL: %w", err)
	}

	geminiKey := getEnv(lookup, "API_KEY", "")
	if geminiKey == "" {
		geminiKey = getEnv(lookup, "GEMINI_API_KEY", "")
	}

	return &Config{
		ListenAddr:     getEnv(lookup, "LISTEN_ADDR", ":8080"),
		VisionBackend:  getEnv(lookup, "VISION_BACKEND", "gemini"),
		GeminiAPIKey:   geminiKey,
		GeminiModel:    getEnv(lookup, "GEMINI_MODEL", "gemini-2.5-flash"),
		ClaudeAPIKey:   getEnv(lookup, "CLAUDE_API_KEY", ""),
		ClaudeModel:    getEnv(lookup, "CLAUDE_MODEL", "claude-opus-4-6"),
		OllamaHost:     getEnv(lookup, "OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:    getEnv(lookup, "OLLAMA_MODEL", "llava"),
		PreviewBackend: getEnv(lookup, "PREVIEW_BACKEND", "memory"),
		PreviewPath:    getEnv(lookup, "PREVIEW_LOCAL_PATH", filepath.Join(os.TempDir(), "imgprompt-previews")),
		SessionIdleTTL: ttl,
		LogLevel:       getEnv(lookup, "LOG_LEVEL", "info"),
		LogFormat:      getEnv(lookup, "LOG_FORMAT", "json"),
		LogFile:        getEnv(lookup, "LOG_FILE", ""),
	}, nil
}

// Validate rejects configurations the server cannot start with. A missing
// credential for the selected backend is reported as
// vision.ErrMissingCredential.
func (c *Config) Validate() error {
	switch c.VisionBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("API_KEY is required when VISION_BACKEND=gemini: %w", vision.ErrMissingCredential)
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required when VISION_BACKEND=claude: %w", vision.ErrMissingCredential)
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown VISION_BACKEND %q", c.VisionBackend)
	}

	switch c.PreviewBackend {
	case "memory", "local":
	default:
		return fmt.Errorf("unknown PREVIEW_BACKEND %q", c.PreviewBackend)
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	return nil
}

// readYAML loads a flat map of variable names to values.
func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return values, nil
}

func getEnv(lookup func(string) (string, bool), key, defaultVal string) string {
	if val, exists := lookup(key); exists {
		return val
	}
	return defaultVal
}
