package realtime

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPath = errors.New("invalid path")

const forbiddenKeyChars = ".#$[]/"

// SplitPath splits a slash separated path into its segments.
// Leading and trailing slashes are ignored, so "" and "/" both name the root.
func SplitPath(p string) ([]string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil, nil
	}
	segs := strings.Split(p, "/")
	for _, s := range segs {
		if err := ValidateKey(s); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, p, err)
		}
	}
	return segs, nil
}

// JoinPath joins segments with slashes.
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

// ValidateKey reports whether k can be used as a single path segment or map key.
func ValidateKey(k string) error {
	if k == "" {
		return errors.New("empty key")
	}
	if strings.ContainsAny(k, forbiddenKeyChars) {
		return fmt.Errorf("key %q contains one of %q", k, forbiddenKeyChars)
	}
	return nil
}

// related reports whether a write at w changes the value observed at s,
// that is whether one path is a prefix of the other.
func related(s, w []string) bool {
	n := min(len(s), len(w))
	for i := 0; i < n; i++ {
		if s[i] != w[i] {
			return false
		}
	}
	return true
}
