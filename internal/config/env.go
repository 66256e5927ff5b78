package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the file configuration
const (
	EnvEngine         = "TRANSCRIBER_ENGINE"
	EnvModel          = "TRANSCRIBER_MODEL"
	EnvFallbackModel  = "TRANSCRIBER_FALLBACK_MODEL"
	EnvAPIKey         = "TRANSCRIBER_API_KEY"
	EnvLanguage       = "TRANSCRIBER_LANGUAGE"
	EnvCommand        = "TRANSCRIBER_COMMAND"
	EnvEndpoint       = "TRANSCRIBER_ENDPOINT"
	EnvStreamChunkMS  = "TRANSCRIBER_STREAM_CHUNK_MS"
	EnvLogLevel       = "TRANSCRIBER_LOG_LEVEL"
	EnvHTTPEnabled    = "TRANSCRIBER_HTTP_ENABLED"
	EnvHTTPPort       = "TRANSCRIBER_HTTP_PORT"
	EnvDeepgramAPIKey = "DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey   = "OPENAI_API_KEY"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from the environment
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if v, ok := nonEmpty(lookup, EnvEngine); ok {
		c.Engine.Name = strings.ToLower(v)
	}
	if v, ok := nonEmpty(lookup, EnvModel); ok {
		c.Engine.Model = v
	}
	if v, ok := nonEmpty(lookup, EnvFallbackModel); ok {
		c.Engine.FallbackModel = v
	}
	if v, ok := nonEmpty(lookup, EnvLanguage); ok {
		c.Engine.Language = v
	}
	if v, ok := nonEmpty(lookup, EnvCommand); ok {
		c.Engine.Command = v
	}
	if v, ok := nonEmpty(lookup, EnvEndpoint); ok {
		c.Engine.Endpoint = v
	}

	if v, ok := nonEmpty(lookup, EnvAPIKey); ok {
		c.Engine.APIKey = v
	} else if c.Engine.APIKey == "" {
		// vendor variables as a last resort
		switch c.Engine.Name {
		case EngineDeepgram:
			c.Engine.APIKey, _ = lookup(EnvDeepgramAPIKey)
		case EngineOpenAI:
			c.Engine.APIKey, _ = lookup(EnvOpenAIAPIKey)
		}
	}

	if v, ok := nonEmpty(lookup, EnvStreamChunkMS); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvStreamChunkMS, v)
		}
		c.Streaming.ChunkMS = n
	}
	if v, ok := nonEmpty(lookup, EnvLogLevel); ok {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := nonEmpty(lookup, EnvHTTPEnabled); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s must be a boolean, got %q", EnvHTTPEnabled, v)
		}
		c.HTTP.Enabled = b
	}
	if v, ok := nonEmpty(lookup, EnvHTTPPort); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvHTTPPort, v)
		}
		c.HTTP.Port = n
	}

	return nil
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Redacted returns a copy safe to expose over the monitoring API
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Engine.APIKey != "" {
		cp.Engine.APIKey = "***"
	}
	return &cp
}
