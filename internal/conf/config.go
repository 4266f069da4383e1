// Package conf loads the application configuration and manages the
// user preferences file.
package conf

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/errors"
	"github.com/clipvault/clipvault/internal/logger"
)

const (
	// DatabaseFileName is the SQLite file inside the data directory
	DatabaseFileName = "database.sqlite3"
	// PreferencesFileName holds runtime-editable preferences
	PreferencesFileName = "settings.yaml"
	// EnvPrefix prefixes environment overrides, e.g. CLIPVAULT_WEBSERVER_LISTEN
	EnvPrefix = "CLIPVAULT"

	appDirName = "clipvault"
)

// Settings is the static application configuration.
type Settings struct {
	DataDir    string               `mapstructure:"datadir" yaml:"datadir"`
	Logging    logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	WebServer  WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Ingest     IngestSettings       `mapstructure:"ingest" yaml:"ingest"`
	Retention  RetentionSettings    `mapstructure:"retention" yaml:"retention"`
	Enrichment EnrichmentSettings   `mapstructure:"enrichment" yaml:"enrichment"`
	OCR        OCRSettings          `mapstructure:"ocr" yaml:"ocr"`
	Search     SearchSettings       `mapstructure:"search" yaml:"search"`
	Telemetry  TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
}

// WebServerSettings configures the local HTTP API.
type WebServerSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// IngestSettings configures clipboard frame ingestion.
type IngestSettings struct {
	ScratchFile string `mapstructure:"scratchfile" yaml:"scratchfile"` // relative to DataDir
}

// RetentionSettings configures the eviction sweep.
type RetentionSettings struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// EnrichmentSettings configures the OCR worker loop.
type EnrichmentSettings struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	ScratchFile string        `mapstructure:"scratchfile" yaml:"scratchfile"` // relative to DataDir
}

// OCRSettings describes where the recognition engine archive comes from
// and how its installation is verified.
type OCRSettings struct {
	URL             string        `mapstructure:"url" yaml:"url"`
	TotalSize       int64         `mapstructure:"totalsize" yaml:"totalsize"`
	DirName         string        `mapstructure:"dirname" yaml:"dirname"`
	CacheName       string        `mapstructure:"cachename" yaml:"cachename"`
	Executable      string        `mapstructure:"executable" yaml:"executable"`
	Archiver        string        `mapstructure:"archiver" yaml:"archiver"`
	IntegrityMarker string        `mapstructure:"integritymarker" yaml:"integritymarker"`
	ChunkSize       int           `mapstructure:"chunksize" yaml:"chunksize"`
	AnalyzeTimeout  time.Duration `mapstructure:"analyzetimeout" yaml:"analyzetimeout"`
}

// SearchSettings configures retrieval.
type SearchSettings struct {
	DefaultLimit    int           `mapstructure:"defaultlimit" yaml:"defaultlimit"`
	VerdictCacheTTL time.Duration `mapstructure:"verdictcachettl" yaml:"verdictcachettl"`
}

// TelemetrySettings configures optional error reporting.
type TelemetrySettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// DatabasePath returns the SQLite file path
func (s *Settings) DatabasePath() string {
	return filepath.Join(s.DataDir, DatabaseFileName)
}

// PreferencesPath returns the preferences file path
func (s *Settings) PreferencesPath() string {
	return filepath.Join(s.DataDir, PreferencesFileName)
}

// IngestScratchPath returns the ingestion scratch file path
func (s *Settings) IngestScratchPath() string {
	return filepath.Join(s.DataDir, s.Ingest.ScratchFile)
}

// EnrichmentScratchPath returns the recognition scratch file path
func (s *Settings) EnrichmentScratchPath() string {
	return filepath.Join(s.DataDir, s.Enrichment.ScratchFile)
}

// EngineDir returns the directory the engine archive extracts into
func (s *Settings) EngineDir() string {
	return filepath.Join(s.DataDir, s.OCR.DirName)
}

// EngineCachePath returns the partially downloaded archive path
func (s *Settings) EngineCachePath() string {
	return filepath.Join(s.DataDir, s.OCR.CacheName)
}

// Load reads configuration from v. Defaults are registered first, then
// the optional config file and CLIPVAULT_* environment variables are
// applied. A missing config file is not an error.
func Load(v *viper.Viper) (*Settings, error) {
	setDefaultConfig(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if v.ConfigFileUsed() == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("operation", "read-config").
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-config").
			Build()
	}

	if settings.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		settings.DataDir = dir
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// EnsureDataDir creates the data directory if needed.
func (s *Settings) EnsureDataDir() error {
	if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", s.DataDir).
			Build()
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-user-config-dir").
			Build()
	}

	paths := []string{"."}
	switch runtime.GOOS {
	case "windows":
		if exe, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Dir(exe))
		}
	default:
		paths = append(paths, "/etc/"+appDirName)
	}
	return append(paths, filepath.Join(configDir, appDirName)), nil
}

func defaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-user-config-dir").
			Build()
	}
	return filepath.Join(dir, appDirName, "data"), nil
}
