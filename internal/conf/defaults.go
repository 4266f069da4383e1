package conf

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Engine distribution defaults. The archive is a 7z of the PaddleOCR-json
// release; IntegrityMarker is the "CRC32 for data and names" value that
// `7z h` prints for a complete extraction.
const (
	DefaultEngineURL       = "https://ghproxy.com/https://github.com/hiroi-sora/PaddleOCR-json/releases/download/v1.3.0/PaddleOCR-json_v.1.3.0.7z"
	DefaultEngineSize      = 100940020
	DefaultEngineDir       = "PaddleOCR-json_v.1.3.0"
	DefaultEngineCache     = ".PaddleOCR-json_v.1.3.0.7z.cache"
	DefaultEngineExe       = "PaddleOCR-json.exe"
	DefaultIntegrityMarker = "170E28C3-00000029"
	DefaultSearchLimit     = 16
)

// setDefaultConfig registers default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("datadir", "")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/clipvault.log")
	v.SetDefault("logging.file_output.level", "info")

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", "127.0.0.1:7340")

	v.SetDefault("ingest.scratchfile", "cache.1.png")

	v.SetDefault("retention.interval", 20*time.Second)

	v.SetDefault("enrichment.interval", 10*time.Second)
	v.SetDefault("enrichment.scratchfile", "cache.2.png")

	v.SetDefault("ocr.url", DefaultEngineURL)
	v.SetDefault("ocr.totalsize", DefaultEngineSize)
	v.SetDefault("ocr.dirname", DefaultEngineDir)
	v.SetDefault("ocr.cachename", DefaultEngineCache)
	v.SetDefault("ocr.executable", DefaultEngineExe)
	v.SetDefault("ocr.archiver", "7z")
	v.SetDefault("ocr.integritymarker", DefaultIntegrityMarker)
	v.SetDefault("ocr.chunksize", 32*1024)
	v.SetDefault("ocr.analyzetimeout", 2*time.Minute)

	v.SetDefault("search.defaultlimit", DefaultSearchLimit)
	v.SetDefault("search.verdictcachettl", 10*time.Minute)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")
}
