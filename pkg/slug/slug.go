// Package slug maps human-readable names to stable configuration keys.
package slug

import (
	"strconv"
	"strings"
)

// Make lower-cases text, collapses every run of characters outside [a-z0-9]
// into a single '-' and trims leading/trailing '-'.
func Make(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingDash := false
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// Unique hands out collision-free slugs for distinct ids within one
// compilation. The first id to claim a base slug gets it verbatim; later ids
// get "-2", "-3", ... in claim order. The zero value is not usable; use
// NewUnique.
type Unique struct {
	byID  map[string]string
	taken map[string]struct{}
}

func NewUnique() *Unique {
	return &Unique{
		byID:  map[string]string{},
		taken: map[string]struct{}{},
	}
}

// Claim returns the slug for id, deriving it from name on first use.
// An empty base slug falls back to fallback.
func (u *Unique) Claim(id, name, fallback string) string {
	if s, ok := u.byID[id]; ok {
		return s
	}
	base := Make(name)
	if base == "" {
		base = Make(fallback)
	}
	s := base
	for n := 2; ; n++ {
		if _, clash := u.taken[s]; !clash {
			break
		}
		s = base + "-" + strconv.Itoa(n)
	}
	u.byID[id] = s
	u.taken[s] = struct{}{}
	return s
}

// Lookup returns the slug previously claimed for id.
func (u *Unique) Lookup(id string) (string, bool) {
	s, ok := u.byID[id]
	return s, ok
}

// Len reports how many ids have claimed a slug.
func (u *Unique) Len() int { return len(u.byID) }
