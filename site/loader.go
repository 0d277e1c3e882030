package site

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadError describes a site file that could not be loaded. The site it
// describes is skipped; other sites are unaffected.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// LoadResult contains the configurations found in a sites directory along
// with any per-file errors.
type LoadResult struct {
	Sites  []*SiteConfig
	Errors []LoadError
}

// Find returns the site with the given name, or nil.
func (r *LoadResult) Find(name string) *SiteConfig {
	for _, s := range r.Sites {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Names returns the names of all loaded sites.
func (r *LoadResult) Names() []string {
	names := make([]string, 0, len(r.Sites))
	for _, s := range r.Sites {
		names = append(names, s.Name)
	}
	return names
}

// Parse decodes and validates one site configuration.
func Parse(data []byte) (*SiteConfig, error) {
	cfg := NewSiteConfig("", "")

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("failed to parse site config: %w", err)
	}

	if cfg.Format == "" {
		cfg.Format = FormatHTML
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads and validates a single site configuration file.
func LoadFile(path string) (*SiteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	return cfg, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, in file name order. A
// missing directory yields an empty result. Invalid files and files that
// reuse an already loaded site name are reported in the result's Errors.
func LoadDir(dir string) (*LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{}, nil
		}
		return nil, fmt.Errorf("failed to read sites directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)

	result := &LoadResult{}
	names := make(map[string]string)

	for _, path := range files {
		cfg, err := LoadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{Path: path, Err: err})
			continue
		}

		if first, ok := names[cfg.Name]; ok {
			result.Errors = append(result.Errors, LoadError{
				Path: path,
				Err:  fmt.Errorf("%w: duplicate site name %q (already defined in %s)", ErrInvalidConfig, cfg.Name, first),
			})
			continue
		}
		names[cfg.Name] = path

		result.Sites = append(result.Sites, cfg)
	}

	return result, nil
}

// Enabled returns the enabled sites, preserving order.
func Enabled(sites []*SiteConfig) []*SiteConfig {
	var enabled []*SiteConfig
	for _, s := range sites {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	return enabled
}
