package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mongorito.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, &Config{
		URLs: []string{DefaultURL},
		Log:  Log{Level: "info", Format: "text"},
	}, cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
urls:
  - mongodb://localhost/blog
  - sqlite:///tmp/blog.db
log:
  level: debug
  format: json
`)

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"mongodb://localhost/blog", "sqlite:///tmp/blog.db"}, cfg.URLs)
	assert.Equal(t, Log{Level: "debug", Format: "json"}, cfg.Log)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("MONGORITO_LOG_LEVEL", "warn")
	t.Setenv("MONGORITO_URLS", "mem://a,mem://b")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"mem://a", "mem://b"}, cfg.URLs)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
	}{
		{name: "missing explicit file", missing: true},
		{name: "bad level", content: "log:\n  level: loud\n"},
		{name: "bad format", content: "log:\n  format: xml\n"},
		{name: "url without scheme", content: "urls:\n  - localhost\n"},
		{name: "empty urls", content: "urls: []\n"},
		{name: "malformed yaml", content: "urls: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.yaml")
			if !tt.missing {
				path = writeConfig(t, tt.content)
			}
			_, err := Load(New(), path)
			assert.Error(t, err)
		})
	}
}
