package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile is a lazily read key=value file. Keys are secret references, optionally
// written with the legacy sm:// scheme; a key without ?version= answers every version.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref reference) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	if value, ok := f.values[ref.versionedKey()]; ok {
		return value, true, nil
	}
	if ref.version == "" {
		return "", false, nil
	}
	value, ok := f.values[ref.canonical]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = map[string]string{}
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open fallback file %s: %w", f.path, err)
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
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		if rest, legacy := strings.CutPrefix(key, "sm://"); legacy {
			key = "secret://" + rest
		}
		value = strings.TrimSpace(value)

		ref, err := parseReference(key)
		if err != nil {
			f.values[key] = value
			continue
		}
		if ref.version == "" {
			f.values[ref.canonical] = value
		}
		f.values[ref.versionedKey()] = value
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read fallback file %s: %w", f.path, err)
	}
}
