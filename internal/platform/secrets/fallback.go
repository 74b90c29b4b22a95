package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fallbackFile holds secrets for local runs, one "secret://name=value" per line.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(canonical, version string) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if v, ok := f.values[cacheKey(canonical, version)]; ok {
		return v, true, nil
	}
	v, ok := f.values[canonical]
	return v, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	path, err := filepath.Abs(f.path)
	if err != nil {
		path = f.path
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			continue
		}
		ref, err := parseReference(key)
		if err != nil {
			f.values[key] = value
			continue
		}
		f.values[cacheKey(ref.canonical, versionOrLatest(ref.version))] = value
		if ref.version == "" {
			f.values[ref.canonical] = value
		}
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}

func versionOrLatest(v string) string {
	if v == "" {
		return latestVersion
	}
	return v
}
