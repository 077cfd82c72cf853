package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const (
	includeKey = "$include"

	// EnvConfigPath overrides the default config location.
	EnvConfigPath = "LEGALCHECK_CONFIG"

	defaultConfigDir  = ".legalcheck"
	defaultConfigName = "config.yaml"
)

// ErrNotFound is returned when no config file exists at the resolved path.
var ErrNotFound = errors.New("config not found")

// Dir returns the per-user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return defaultConfigDir
	}
	return filepath.Join(home, defaultConfigDir)
}

// ResolvePath picks the config file to use: an explicit path, then
// $LEGALCHECK_CONFIG, then ~/.legalcheck/config.yaml. The boolean reports
// whether the path was chosen explicitly or exists on disk.
func ResolvePath(explicit string) (string, bool) {
	if strings.TrimSpace(explicit) != "" {
		return ExpandUserPath(explicit), true
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return ExpandUserPath(env), true
	}
	defaultPath := filepath.Join(Dir(), defaultConfigName)
	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath, true
	}
	return defaultPath, false
}

// ExpandUserPath replaces a leading "~/" with the home directory.
func ExpandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}

// sections are the top-level keys a config file or included fragment may
// set. Every section except version is a mapping.
var sections = map[string]bool{
	"version":       true,
	"api":           true,
	"auth":          true,
	"chat":          true,
	"logging":       true,
	"observability": true,
}

// LoadRaw reads path and the fragments it names under $include into one map.
// Fragments apply in order, then the including file. Within a section later
// keys win and keys left unset are inherited.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("config path is required")
	}
	l := &fragmentLoader{}
	return l.load(path)
}

// fragmentLoader keeps the include chain so a cycle is reported with every
// file involved.
type fragmentLoader struct {
	chain []string
}

func (l *fragmentLoader) load(path string) (map[string]any, error) {
	absPath, err := filepath.Abs(ExpandUserPath(path))
	if err != nil {
		return nil, err
	}
	if slices.Contains(l.chain, absPath) {
		return nil, fmt.Errorf("config include cycle detected: %s", strings.Join(append(l.chain, absPath), " -> "))
	}
	l.chain = append(l.chain, absPath)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, absPath)
		}
		return nil, err
	}
	fragment, err := parseFragment([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	includes, err := takeIncludes(fragment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	merged := map[string]any{}
	for _, include := range includes {
		include = strings.TrimSpace(include)
		if include == "" {
			continue
		}
		if !filepath.IsAbs(include) && !strings.HasPrefix(include, "~/") {
			include = filepath.Join(filepath.Dir(absPath), include)
		}
		included, err := l.load(include)
		if err != nil {
			return nil, err
		}
		if err := overlay(merged, included, include); err != nil {
			return nil, err
		}
	}
	if err := overlay(merged, fragment, absPath); err != nil {
		return nil, err
	}
	return merged, nil
}

func parseFragment(data []byte, path string) (map[string]any, error) {
	fragment := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &fragment); err != nil {
			return nil, err
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(&fragment); err != nil && err != io.EOF {
			return nil, err
		}
		if err := decoder.Decode(&struct{}{}); err != io.EOF {
			return nil, errors.New("expected a single YAML document")
		}
	}
	if fragment == nil {
		fragment = map[string]any{}
	}
	return fragment, nil
}

// takeIncludes removes $include from fragment and returns the paths it named.
func takeIncludes(fragment map[string]any) ([]string, error) {
	value, ok := fragment[includeKey]
	if !ok {
		return nil, nil
	}
	delete(fragment, includeKey)

	switch typed := value.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			path, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, path)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}
}

// overlay applies src onto dst section by section. An empty section in src
// changes nothing; version is replaced outright.
func overlay(dst, src map[string]any, source string) error {
	for name, value := range src {
		if !sections[name] {
			return fmt.Errorf("%s: unknown config section %q", source, name)
		}
		if value == nil {
			continue
		}
		if name == "version" {
			dst[name] = value
			continue
		}
		fields, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: config section %q must be a mapping", source, name)
		}
		section, _ := dst[name].(map[string]any)
		if section == nil {
			section = make(map[string]any, len(fields))
		}
		for key, field := range fields {
			section[key] = field
		}
		dst[name] = section
	}
	return nil
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Write encodes cfg as YAML at path, creating the directory with 0700.
// Inline tokens are never written; use a token file instead.
func Write(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	path = ExpandUserPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	toWrite := *cfg
	toWrite.Auth.Token = ""
	if toWrite.Version == 0 {
		toWrite.Version = CurrentVersion
	}
	data, err := yaml.Marshal(&toWrite)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
