package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/clipvault/internal/errors"
)

func writeConfig(t *testing.T, body string) *viper.Viper {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	v := viper.New()
	v.SetConfigFile(path)
	return v
}

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	v := writeConfig(t, "datadir: "+dataDir+"\n")

	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, dataDir, s.DataDir)
	assert.Equal(t, 20*time.Second, s.Retention.Interval)
	assert.Equal(t, 10*time.Second, s.Enrichment.Interval)
	assert.Equal(t, int64(DefaultEngineSize), s.OCR.TotalSize)
	assert.Equal(t, DefaultIntegrityMarker, s.OCR.IntegrityMarker)
	assert.Equal(t, DefaultSearchLimit, s.Search.DefaultLimit)
	assert.Equal(t, filepath.Join(dataDir, "database.sqlite3"), s.DatabasePath())
	assert.Equal(t, filepath.Join(dataDir, "cache.1.png"), s.IngestScratchPath())
	assert.Equal(t, filepath.Join(dataDir, "cache.2.png"), s.EnrichmentScratchPath())
	assert.Equal(t, filepath.Join(dataDir, DefaultEngineDir), s.EngineDir())
	assert.Equal(t, filepath.Join(dataDir, DefaultEngineCache), s.EngineCachePath())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	v := writeConfig(t, `
datadir: `+dataDir+`
retention:
  interval: 5s
ocr:
  archiver: /opt/7zz
logging:
  module_levels:
    ocr: debug
`)
	t.Setenv("CLIPVAULT_WEBSERVER_LISTEN", "127.0.0.1:9999")

	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, s.Retention.Interval)
	assert.Equal(t, "/opt/7zz", s.OCR.Archiver)
	assert.Equal(t, "127.0.0.1:9999", s.WebServer.Listen)
	assert.Equal(t, "debug", s.Logging.ModuleLevels["ocr"])
}

func TestValidateSettings(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"zero retention interval", func(s *Settings) { s.Retention.Interval = 0 }},
		{"negative chunk size", func(s *Settings) { s.OCR.ChunkSize = -1 }},
		{"non-http url", func(s *Settings) { s.OCR.URL = "ftp://example.com/a.7z" }},
		{"scratch path traversal", func(s *Settings) { s.Ingest.ScratchFile = "../x.png" }},
		{"shared scratch file", func(s *Settings) { s.Enrichment.ScratchFile = s.Ingest.ScratchFile }},
		{"scratch file not png", func(s *Settings) { s.Ingest.ScratchFile = "cache.bin" }},
		{"enrichment scratch without extension", func(s *Settings) { s.Enrichment.ScratchFile = "cache" }},
		{"zero default limit", func(s *Settings) { s.Search.DefaultLimit = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := writeConfig(t, "datadir: "+t.TempDir()+"\n")
			s, err := Load(v)
			require.NoError(t, err)

			tc.mutate(s)
			err = ValidateSettings(s)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	v := writeConfig(t, "retention: [unterminated\n")
	_, err := Load(v)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
