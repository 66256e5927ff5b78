package config

import (
	"os"
	"path/filepath"
	"testing"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		check     func(t *testing.T, c *Config)
		expectErr bool
	}{
		{
			name: "engine and model",
			env:  map[string]string{EnvEngine: "Deepgram", EnvModel: "nova-3", EnvLanguage: "uk"},
			check: func(t *testing.T, c *Config) {
				if c.Engine.Name != EngineDeepgram || c.Engine.Model != "nova-3" || c.Engine.Language != "uk" {
					t.Errorf("Unexpected engine config: %+v", c.Engine)
				}
			},
		},
		{
			name: "vendor key fallback",
			env:  map[string]string{EnvEngine: "deepgram", EnvDeepgramAPIKey: "dg", EnvOpenAIAPIKey: "oa"},
			check: func(t *testing.T, c *Config) {
				if c.Engine.APIKey != "dg" {
					t.Errorf("Expected deepgram key, got %q", c.Engine.APIKey)
				}
			},
		},
		{
			name: "explicit key wins",
			env:  map[string]string{EnvEngine: "openai", EnvAPIKey: "explicit", EnvOpenAIAPIKey: "oa"},
			check: func(t *testing.T, c *Config) {
				if c.Engine.APIKey != "explicit" {
					t.Errorf("Expected explicit key, got %q", c.Engine.APIKey)
				}
			},
		},
		{
			name: "http and chunk overrides",
			env:  map[string]string{EnvHTTPEnabled: "true", EnvHTTPPort: "8088", EnvStreamChunkMS: "40", EnvLogLevel: "DEBUG"},
			check: func(t *testing.T, c *Config) {
				if !c.HTTP.Enabled || c.HTTP.Port != 8088 {
					t.Errorf("Unexpected http config: %+v", c.HTTP)
				}
				if c.Streaming.ChunkMS != 40 || c.Logging.Level != "debug" {
					t.Errorf("Unexpected overrides: %d %s", c.Streaming.ChunkMS, c.Logging.Level)
				}
			},
		},
		{
			name: "blank values are ignored",
			env:  map[string]string{EnvEngine: "  ", EnvModel: ""},
			check: func(t *testing.T, c *Config) {
				if c.Engine.Name != EngineWhisper {
					t.Errorf("Expected default engine, got %s", c.Engine.Name)
				}
			},
		},
		{name: "bad chunk", env: map[string]string{EnvStreamChunkMS: "fast"}, expectErr: true},
		{name: "bad bool", env: map[string]string{EnvHTTPEnabled: "sometimes"}, expectErr: true},
		{name: "bad port", env: map[string]string{EnvHTTPPort: "eighty"}, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			err := c.ApplyEnv(lookupFrom(tt.env))
			if tt.expectErr {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TRANSCRIBER_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}
	t.Setenv("TRANSCRIBER_TEST_DOTENV", "")
	os.Unsetenv("TRANSCRIBER_TEST_DOTENV")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("TRANSCRIBER_TEST_DOTENV"); got != "from-file" {
		t.Errorf("Expected value from .env, got %q", got)
	}
}

func TestRedacted(t *testing.T) {
	c := Default()
	c.Engine.APIKey = "secret"
	r := c.Redacted()
	if r.Engine.APIKey != "***" {
		t.Errorf("Expected redacted key, got %q", r.Engine.APIKey)
	}
	if c.Engine.APIKey != "secret" {
		t.Error("Redacted must not modify the original")
	}
}
