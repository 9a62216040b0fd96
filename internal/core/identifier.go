package core

import (
	"math"
	"strconv"
	"strings"
)

// MaxHandleLength is the longest handle the provider accepts.
const MaxHandleLength = 32

var handlePrefixes = []string{
	"https://t.me/",
	"http://t.me/",
	"https://telegram.me/",
	"t.me/",
}

// ChatIdentifier references one remote chat, either by numeric id or by
// normalized handle. Exactly one of the two is set.
type ChatIdentifier struct {
	ID     int64
	Handle string
}

// IsZero reports whether the identifier is empty.
func (c ChatIdentifier) IsZero() bool {
	return c.ID == 0 && c.Handle == ""
}

// IsHandle reports whether the identifier is a handle.
func (c ChatIdentifier) IsHandle() bool {
	return c.Handle != ""
}

// APIForm is the form sent to the provider: "@handle" or the decimal id.
func (c ChatIdentifier) APIForm() string {
	if c.Handle != "" {
		return "@" + c.Handle
	}
	if c.ID == 0 {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

// Key is the form used for dedup comparisons: bare lowercase handle or id.
func (c ChatIdentifier) Key() string {
	if c.Handle != "" {
		return c.Handle
	}
	if c.ID == 0 {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

func (c ChatIdentifier) String() string {
	return c.APIForm()
}

// NormalizeHandle strips URL prefixes and a leading "@", trims and lowercases.
// It does not validate the result.
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range handlePrefixes {
		if strings.HasPrefix(lower, p) {
			s = s[len(p):]
			break
		}
	}
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, "/")
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidHandle reports whether h (already normalized) is an acceptable handle.
func ValidHandle(h string) bool {
	if h == "" || len(h) > MaxHandleLength {
		return false
	}
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// ParseID parses an id cell. Values like "123.0" are truncated; only positive
// results are accepted.
func ParseID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, n > 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 {
		return 0, false
	}
	n := int64(f)
	return n, n > 0
}

// Resolve returns the canonical identifier for one input record given its
// username and id cells. A valid handle wins over a valid id.
func Resolve(username, id string) (ChatIdentifier, bool) {
	if h := NormalizeHandle(username); ValidHandle(h) {
		return ChatIdentifier{Handle: h}, true
	}
	if n, ok := ParseID(id); ok {
		return ChatIdentifier{ID: n}, true
	}
	return ChatIdentifier{}, false
}

// ResolveRecord resolves an input row keyed by canonical column names.
func ResolveRecord(rec map[string]string) (ChatIdentifier, bool) {
	return Resolve(rec[ColUsername], rec[ColID])
}
