// Package channel models hierarchical routing scopes such as
// "telegram/chat/42/thread/7". A channel is an ordered list of non-empty
// segments; prefix relations are decided segment by segment, so "chat/1"
// never matches "chat/12".
package channel

import (
	"strings"

	kerrors "github.com/hpungsan/kapy/internal/errors"
)

// Separator joins segments in the canonical string form.
const Separator = "/"

// Channel is an immutable, validated channel path.
// The zero value is not a valid channel; use Parse or MustParse.
type Channel struct {
	segs []string
}

// Parse validates s and returns the channel.
// Surrounding whitespace is trimmed; the result must be non-empty, must not
// start or end with "/" and must not contain empty segments.
func Parse(s string) (Channel, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return Channel{}, kerrors.NewInvalidChannel(s, "must not be empty")
	}
	if strings.HasPrefix(v, Separator) || strings.HasSuffix(v, Separator) {
		return Channel{}, kerrors.NewInvalidChannel(s, "must not start or end with '/'")
	}
	parts := strings.Split(v, Separator)
	for _, p := range parts {
		if p == "" {
			return Channel{}, kerrors.NewInvalidChannel(s, "contains empty path segment")
		}
	}
	return Channel{segs: parts}, nil
}

// MustParse is Parse that panics on error. Intended for constants and tests.
func MustParse(s string) Channel {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsZero reports whether c is the zero Channel.
func (c Channel) IsZero() bool {
	return len(c.segs) == 0
}

// String returns the canonical "/"-joined form.
func (c Channel) String() string {
	return strings.Join(c.segs, Separator)
}

// Segments returns a copy of the segments.
func (c Channel) Segments() []string {
	out := make([]string, len(c.segs))
	copy(out, c.segs)
	return out
}

// Len returns the number of segments.
func (c Channel) Len() int {
	return len(c.segs)
}

// Root returns the first segment.
func (c Channel) Root() string {
	if len(c.segs) == 0 {
		return ""
	}
	return c.segs[0]
}

// RootChannel returns the single-segment channel made of Root.
func (c Channel) RootChannel() Channel {
	if len(c.segs) == 0 {
		return Channel{}
	}
	return Channel{segs: c.segs[:1:1]}
}

// Equal reports segment-wise equality.
func (c Channel) Equal(other Channel) bool {
	if len(c.segs) != len(other.segs) {
		return false
	}
	for i := range c.segs {
		if c.segs[i] != other.segs[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether c equals prefix or lies in its subtree.
func (c Channel) HasPrefix(prefix Channel) bool {
	if len(prefix.segs) == 0 || len(prefix.segs) > len(c.segs) {
		return false
	}
	for i, s := range prefix.segs {
		if c.segs[i] != s {
			return false
		}
	}
	return true
}

// Ancestors returns every prefix of c from the root through c itself.
func (c Channel) Ancestors() []Channel {
	out := make([]Channel, 0, len(c.segs))
	for i := 1; i <= len(c.segs); i++ {
		out = append(out, Channel{segs: c.segs[:i:i]})
	}
	return out
}

// EffectiveOut returns out when set, else in.
func EffectiveOut(in Channel, out *Channel) Channel {
	if out == nil || out.IsZero() {
		return in
	}
	return *out
}

// NormalizeOut returns nil when out is unset or equal to in, so the
// same-as-input case is stored as absent.
func NormalizeOut(in Channel, out *Channel) *Channel {
	if out == nil || out.IsZero() || out.Equal(in) {
		return nil
	}
	o := *out
	return &o
}

// ParseOptional parses s, returning nil for an empty or whitespace-only value.
func ParseOptional(s string) (*Channel, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
