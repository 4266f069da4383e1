package conf

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/clipvault/clipvault/internal/errors"
)

// LimitType selects how the retention budget is measured.
type LimitType string

const (
	// LimitMB budgets the on-disk database size in megabytes
	LimitMB LimitType = "MB"
	// LimitNUM budgets the number of stored records
	LimitNUM LimitType = "NUM"
)

// Preference defaults, applied when a field is absent.
const (
	DefaultLimitType     = LimitMB
	DefaultDatabaseLimit = int64(1024)
)

// Preferences are the user-editable settings. Every field is optional;
// an update only overwrites the fields that are set.
type Preferences struct {
	AutoStart         *bool      `yaml:"auto_start,omitempty" json:"auto_start,omitempty"`
	DatabaseLimitType *LimitType `yaml:"database_limit_type,omitempty" json:"database_limit_type,omitempty"`
	DatabaseLimit     *int64     `yaml:"database_limit,omitempty" json:"database_limit,omitempty"`
	OCRFeature        *bool      `yaml:"ocr_feature,omitempty" json:"ocr_feature,omitempty"`
}

// DefaultPreferences returns the preferences written on first start.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoStart:         ptr(false),
		DatabaseLimitType: ptr(DefaultLimitType),
		DatabaseLimit:     ptr(DefaultDatabaseLimit),
		OCRFeature:        ptr(false),
	}
}

// LimitType returns the budget kind, defaulting to MB.
func (p Preferences) LimitType() LimitType {
	if p.DatabaseLimitType == nil {
		return DefaultLimitType
	}
	return *p.DatabaseLimitType
}

// Limit returns the budget threshold, defaulting to 1024.
func (p Preferences) Limit() int64 {
	if p.DatabaseLimit == nil {
		return DefaultDatabaseLimit
	}
	return *p.DatabaseLimit
}

// OCREnabled reports whether the enrichment worker should run.
func (p Preferences) OCREnabled() bool {
	return p.OCRFeature != nil && *p.OCRFeature
}

// Merge returns p with every field set in update overwritten.
func (p Preferences) Merge(update Preferences) Preferences {
	out := p.clone()
	if update.AutoStart != nil {
		out.AutoStart = ptr(*update.AutoStart)
	}
	if update.DatabaseLimitType != nil {
		out.DatabaseLimitType = ptr(*update.DatabaseLimitType)
	}
	if update.DatabaseLimit != nil {
		out.DatabaseLimit = ptr(*update.DatabaseLimit)
	}
	if update.OCRFeature != nil {
		out.OCRFeature = ptr(*update.OCRFeature)
	}
	return out
}

// Validate rejects unknown limit types and negative limits.
func (p Preferences) Validate() error {
	if p.DatabaseLimitType != nil {
		switch *p.DatabaseLimitType {
		case LimitMB, LimitNUM:
		default:
			return errors.New(errors.NewStd("database_limit_type must be MB or NUM")).
				Component("conf").
				Category(errors.CategoryValidation).
				Context("value", string(*p.DatabaseLimitType)).
				Build()
		}
	}
	if p.DatabaseLimit != nil && *p.DatabaseLimit < 0 {
		return errors.New(errors.NewStd("database_limit must not be negative")).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("value", *p.DatabaseLimit).
			Build()
	}
	return nil
}

func (p Preferences) clone() Preferences {
	var out Preferences
	if p.AutoStart != nil {
		out.AutoStart = ptr(*p.AutoStart)
	}
	if p.DatabaseLimitType != nil {
		out.DatabaseLimitType = ptr(*p.DatabaseLimitType)
	}
	if p.DatabaseLimit != nil {
		out.DatabaseLimit = ptr(*p.DatabaseLimit)
	}
	if p.OCRFeature != nil {
		out.OCRFeature = ptr(*p.OCRFeature)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// PreferenceStore keeps the current preferences in memory and persists
// every update to a YAML file.
type PreferenceStore struct {
	path    string
	mu      sync.RWMutex
	current Preferences
}

// NewPreferenceStore loads preferences from path. When the file does not
// exist the defaults are written to it.
func NewPreferenceStore(path string) (*PreferenceStore, error) {
	s := &PreferenceStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.current = DefaultPreferences()
		if err := SaveYAML(path, s.current); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "read-preferences").
			Build()
	}

	if err := yaml.Unmarshal(data, &s.current); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "parse-preferences").
			Build()
	}
	if err := s.current.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current preferences.
func (s *PreferenceStore) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Update merges update into the current preferences and persists the
// result. The in-memory value only changes if the write succeeds.
func (s *PreferenceStore) Update(update Preferences) (Preferences, error) {
	if err := update.Validate(); err != nil {
		return Preferences{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Merge(update)
	if err := SaveYAML(s.path, next); err != nil {
		return Preferences{}, err
	}
	s.current = next
	return next.clone(), nil
}

// SaveYAML marshals v and atomically replaces path with it.
func SaveYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileParsing).
			Context("operation", "marshal-yaml").
			Build()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}

	tmp, err := os.CreateTemp(dir, "settings-*.yaml")
	if err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return errors.New(err).Component("conf").Category(errors.CategoryFileIO).Build()
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("operation", "replace-preferences").
			Build()
	}
	return nil
}
