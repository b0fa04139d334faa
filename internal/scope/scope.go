package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Path is a dot-separated position in an organization hierarchy, e.g.
// "acme.pediatrics". A shorter path is wider; the root segment is the tenant.
type Path string

var ErrInvalidPath = errors.New("scope: invalid path")

// Parse validates and normalizes a raw scope path.
func Parse(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segments := strings.Split(raw, ".")
	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, raw)
		}
		if strings.ContainsAny(seg, " \t\n") {
			return "", fmt.Errorf("%w: whitespace in segment %q", ErrInvalidPath, seg)
		}
	}
	return Path(strings.Join(segments, ".")), nil
}

// MustParse is a test/seed helper that panics on malformed input.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return string(p) }

func (p Path) IsZero() bool { return p == "" }

// Depth returns the number of segments. Fewer segments means a wider scope.
// Depth orders scopes for reporting only; Contains is the access ground truth.
func (p Path) Depth() int {
	if p.IsZero() {
		return 0
	}
	return strings.Count(string(p), ".") + 1
}

// Root returns the first segment (the tenant root scope).
func (p Path) Root() Path {
	if i := strings.IndexByte(string(p), '.'); i >= 0 {
		return p[:i]
	}
	return p
}

// Contains reports whether other is p itself or nested beneath it.
func (p Path) Contains(other Path) bool {
	if p.IsZero() || other.IsZero() {
		return false
	}
	if p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+".")
}
