package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envSource layers the three places a key can come from. Explicit values beat the process
// environment, which beats the .env file.
type envSource struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func newEnvSource(options loaderOptions) (envSource, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return envSource{}, err
	}
	return envSource{explicit: options.envMap, system: options.useSystemEnv, dotenv: dotenv}, nil
}

func (s envSource) get(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

// snapshot flattens the layers into one map.
func (s envSource) snapshot() map[string]string {
	out := make(map[string]string, len(s.dotenv)+len(s.explicit))
	for key, value := range s.dotenv {
		out[key] = value
	}
	if s.system {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				out[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range s.explicit {
		out[key] = value
	}
	return out
}

// envReader reads typed values. A key that is set but cannot be parsed is remembered and
// reported by Load instead of silently falling back to the default.
type envReader struct {
	src     envSource
	invalid map[string]string
}

func newEnvReader(src envSource) *envReader {
	return &envReader{src: src, invalid: make(map[string]string)}
}

func (r *envReader) raw(key string) (string, bool) {
	value, ok := r.src.get(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (r *envReader) reject(key, reason string) {
	r.invalid[key] = reason
}

func (r *envReader) String(key, fallback string) string {
	if value, ok := r.raw(key); ok {
		return value
	}
	return fallback
}

func (r *envReader) Lower(key, fallback string) string {
	return strings.ToLower(r.String(key, fallback))
}

func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.reject(key, "not a duration")
		return fallback
	}
	return d
}

func (r *envReader) Int(key string, fallback int) int {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.reject(key, "not an integer")
		return fallback
	}
	return n
}

func (r *envReader) Bool(key string, fallback bool) bool {
	value, ok := r.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	case "0", "f", "false", "n", "no", "off":
		return false
	}
	r.reject(key, "not a boolean")
	return fallback
}

// List splits a comma separated value, dropping blanks.
func (r *envReader) List(key string) []string {
	items := []string{}
	value, ok := r.raw(key)
	if !ok {
		return items
	}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Pairs parses "name=value" items from List. Names are lower-cased; an item without a name or
// value marks the key invalid.
func (r *envReader) Pairs(key string) map[string]string {
	pairs := make(map[string]string)
	for _, item := range r.List(key) {
		name, value, _ := strings.Cut(item, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			r.reject(key, fmt.Sprintf("malformed entry %q", item))
			continue
		}
		pairs[name] = value
	}
	return pairs
}

// Invalid lists "KEY: reason" entries sorted by key.
func (r *envReader) Invalid() []string {
	if len(r.invalid) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.invalid))
	for key := range r.invalid {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+": "+r.invalid[key])
	}
	return out
}

// readDotEnv returns nil when path is empty or the file does not exist.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}
