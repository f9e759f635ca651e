package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Background is the name of class 0 in two-stage detectors.
const Background = "__background__"

// ClassSet maps class indices produced by a model to names.
type ClassSet struct {
	names []string
}

// NewClassSet returns a set whose index i is names[i].
func NewClassSet(names []string) ClassSet {
	return ClassSet{names: append([]string(nil), names...)}
}

// Len returns the number of named classes.
func (c ClassSet) Len() int {
	return len(c.names)
}

// Names returns a copy of the class names in index order.
func (c ClassSet) Names() []string {
	return append([]string(nil), c.names...)
}

// Name returns the name of class id, or class_<id> when the set has no
// entry for it.
func (c ClassSet) Name(id int) string {
	if id >= 0 && id < len(c.names) && c.names[id] != "" {
		return c.names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// WithBackground prepends the background entry unless the set already starts
// with it.
func (c ClassSet) WithBackground() ClassSet {
	if len(c.names) > 0 && c.names[0] == Background {
		return c
	}
	return ClassSet{names: append([]string{Background}, c.names...)}
}

// ParseNames reads a class list in any of the formats checkpoints and
// configuration carry it in:
//
//   - Ultralytics metadata: {0: 'daisy', 1: 'rose'}
//   - a JSON list: ["daisy", "rose"]
//   - a JSON object keyed by index: {"0": "daisy", "1": "rose"}
//   - a comma separated list: daisy, rose
//
// Returns:
//   - []string: Names in index order. Missing indices are left empty.
//   - error: When s is empty or an index is not an integer.
func ParseNames(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty class names")
	}

	if strings.HasPrefix(s, "[") {
		var list []string
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, errors.Wrap(err, "parse class name list")
		}
		return list, nil
	}

	if strings.HasPrefix(s, "{") {
		return parseIndexedNames(strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}"))
	}

	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			names = append(names, p)
		}
	}
	return names, nil
}

// parseIndexedNames reads "0: 'a', 1: 'b'" with single or double quotes.
func parseIndexedNames(body string) ([]string, error) {
	byIndex := make(map[int]string)
	maxIndex := -1

	for _, entry := range splitEntries(body) {
		key, value, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errors.Errorf("malformed class entry %q", entry)
		}
		idx, err := strconv.Atoi(unquote(key))
		if err != nil {
			return nil, errors.Wrapf(err, "class index in %q", entry)
		}
		if idx < 0 {
			return nil, errors.Errorf("negative class index %d", idx)
		}
		byIndex[idx] = unquote(value)
		maxIndex = max(maxIndex, idx)
	}

	names := make([]string, maxIndex+1)
	for idx, name := range byIndex {
		names[idx] = name
	}
	return names, nil
}

// splitEntries splits on commas that are not inside quotes.
func splitEntries(body string) []string {
	var (
		entries []string
		current strings.Builder
		quote   rune
	)
	for _, r := range body {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == ',':
			entries = append(entries, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	entries = append(entries, current.String())

	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e) != "" {
			out = append(out, e)
		}
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
