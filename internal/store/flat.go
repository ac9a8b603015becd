package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const managedPrefix = "# managed-by mpoolctl revision="

// line is one physical line of the flat file. Comments and blank lines
// have an empty key and are written back untouched.
type line struct {
	raw   string
	key   string
	value string
}

// flatFile is the key=value view. Order, comments and unknown keys survive
// a load/save cycle.
type flatFile struct {
	lines    []line
	revision uint64
	managed  int
}

func parseFlat(data string) (*flatFile, error) {
	f := &flatFile{managed: -1}
	if data == "" {
		return f, nil
	}

	rows := strings.Split(strings.TrimSuffix(data, "\n"), "\n")
	for i, raw := range rows {
		raw = strings.TrimSuffix(raw, "\r")
		trimmed := strings.TrimSpace(raw)

		if strings.HasPrefix(trimmed, managedPrefix) {
			rev, err := strconv.ParseUint(strings.TrimPrefix(trimmed, managedPrefix), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: bad revision marker", deployerr.ErrConfigCorrupt, i+1)
			}
			f.revision = rev
			f.managed = len(f.lines)
			f.lines = append(f.lines, line{raw: raw})
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			f.lines = append(f.lines, line{raw: raw})
			continue
		}
		if !strings.Contains(trimmed, "=") {
			return nil, fmt.Errorf("%w: line %d: expected KEY=VALUE", deployerr.ErrConfigCorrupt, i+1)
		}

		kv, err := godotenv.Unmarshal(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", deployerr.ErrConfigCorrupt, i+1, err)
		}
		if len(kv) != 1 {
			return nil, fmt.Errorf("%w: line %d: expected exactly one assignment", deployerr.ErrConfigCorrupt, i+1)
		}
		for k, v := range kv {
			f.lines = append(f.lines, line{raw: raw, key: k, value: v})
		}
	}
	return f, nil
}

func (f *flatFile) get(key string) (string, bool) {
	for _, l := range f.lines {
		if l.key == key {
			return l.value, true
		}
	}
	return "", false
}

// set rewrites the first line holding key and drops any later duplicates,
// or appends a line. Values are written verbatim.
func (f *flatFile) set(key, value string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", deployerr.ErrInvalidKey, key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("%w: value for %s spans lines", deployerr.ErrInvalidKey, key)
	}

	updated := line{raw: key + "=" + value, key: key, value: value}
	found := false
	kept := f.lines[:0]
	for i, l := range f.lines {
		if l.key == key {
			if found {
				continue
			}
			l = updated
			found = true
		}
		if i == f.managed {
			f.managed = len(kept)
		}
		kept = append(kept, l)
	}
	f.lines = kept
	if !found {
		f.lines = append(f.lines, updated)
	}
	return nil
}

func (f *flatFile) keys() []string {
	var out []string
	for _, l := range f.lines {
		if l.key != "" {
			out = append(out, l.key)
		}
	}
	return out
}

func (f *flatFile) stamp(revision uint64) {
	f.revision = revision
	marker := line{raw: managedPrefix + strconv.FormatUint(revision, 10)}
	if f.managed >= 0 {
		f.lines[f.managed] = marker
		return
	}
	f.lines = append([]line{marker}, f.lines...)
	f.managed = 0
}

func (f *flatFile) render() []byte {
	var b strings.Builder
	for _, l := range f.lines {
		b.WriteString(l.raw)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
