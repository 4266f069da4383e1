package conf

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/clipvault/clipvault/internal/errors"
)

// ValidateSettings checks settings that would otherwise fail late inside
// a background loop.
func ValidateSettings(s *Settings) error {
	var errs []error

	if s.Retention.Interval <= 0 {
		errs = append(errs, errors.ValidationError("retention.interval must be positive"))
	}
	if s.Enrichment.Interval <= 0 {
		errs = append(errs, errors.ValidationError("enrichment.interval must be positive"))
	}
	if s.OCR.TotalSize <= 0 {
		errs = append(errs, errors.ValidationError("ocr.totalsize must be positive"))
	}
	if s.OCR.ChunkSize <= 0 {
		errs = append(errs, errors.ValidationError("ocr.chunksize must be positive"))
	}
	if u, err := url.Parse(s.OCR.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, errors.ValidationError("ocr.url must be an http(s) URL"))
	}
	if s.Search.DefaultLimit <= 0 {
		errs = append(errs, errors.ValidationError("search.defaultlimit must be positive"))
	}

	for key, name := range map[string]string{
		"ingest.scratchfile":     s.Ingest.ScratchFile,
		"enrichment.scratchfile": s.Enrichment.ScratchFile,
		"ocr.dirname":            s.OCR.DirName,
		"ocr.cachename":          s.OCR.CacheName,
	} {
		if !isPlainFileName(name) {
			errs = append(errs, errors.ValidationError(key+" must be a plain file name"))
		}
	}
	// the scratch encoder picks its format from the extension
	for key, name := range map[string]string{
		"ingest.scratchfile":     s.Ingest.ScratchFile,
		"enrichment.scratchfile": s.Enrichment.ScratchFile,
	} {
		if !strings.EqualFold(filepath.Ext(name), ".png") {
			errs = append(errs, errors.ValidationError(key+" must have a .png extension"))
		}
	}
	if s.Ingest.ScratchFile == s.Enrichment.ScratchFile {
		errs = append(errs, errors.ValidationError("ingest and enrichment scratch files must differ"))
	}

	return errors.Join(errs...)
}

func isPlainFileName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
