// Package skills derives skill names from channels and resolves them against
// a registry.
package skills

import (
	"fmt"
	"strings"

	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/errors"
)

// Skill groups used for routing.
const (
	GroupContext  = "context"
	GroupMessager = "messager"
)

// Skill is a registered skill document.
type Skill struct {
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Registry looks skills up by name ("<group>/<kind>").
type Registry interface {
	// Lookup returns the skill or an UNKNOWN_SKILL error.
	Lookup(name string) (*Skill, error)
}

// ContextSkill names the skill that gathers context for in.
func ContextSkill(in channel.Channel) string {
	return GroupContext + "/" + in.Root()
}

// MessagerSkill names the skill that delivers replies for the effective
// output channel of (in, out).
func MessagerSkill(in channel.Channel, out *channel.Channel) string {
	return GroupMessager + "/" + channel.EffectiveOut(in, out).Root()
}

// Routing is the pair of skills handling one inbound event.
type Routing struct {
	Context  *Skill `json:"context"`
	Messager *Skill `json:"messager"`
}

// Route resolves both skills for an event. A missing skill is an error.
func Route(reg Registry, in channel.Channel, out *channel.Channel) (*Routing, error) {
	if in.IsZero() {
		return nil, errors.NewInvalidChannel("", "in_channel is required")
	}
	ctxSkill, err := reg.Lookup(ContextSkill(in))
	if err != nil {
		return nil, err
	}
	msgSkill, err := reg.Lookup(MessagerSkill(in, out))
	if err != nil {
		return nil, err
	}
	return &Routing{Context: ctxSkill, Messager: msgSkill}, nil
}

// Render concatenates skill bodies under a header naming each skill.
func Render(skills ...*Skill) string {
	var b strings.Builder
	for _, s := range skills {
		if s == nil || strings.TrimSpace(s.Body) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "# ===== skills/%s/SKILLS.md =====\n", s.Name)
		b.WriteString(strings.TrimSpace(s.Body))
	}
	return b.String()
}

// StaticRegistry is an in-memory registry keyed by skill name.
type StaticRegistry map[string]Skill

// Lookup implements Registry.
func (r StaticRegistry) Lookup(name string) (*Skill, error) {
	s, ok := r[name]
	if !ok {
		return nil, errors.NewUnknownSkill(name)
	}
	if s.Name == "" {
		s.Name = name
	}
	return &s, nil
}
