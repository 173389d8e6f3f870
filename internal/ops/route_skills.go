package ops

import (
	"github.com/hpungsan/kapy/internal/channel"
	"github.com/hpungsan/kapy/internal/prompt"
	"github.com/hpungsan/kapy/internal/skills"
)

// RouteSkillsInput contains parameters for the RouteSkills operation.
type RouteSkillsInput struct {
	InChannel  string // required
	OutChannel string // optional; defaults to InChannel
}

// RouteSkillsOutput names and resolves the skills for an event.
type RouteSkillsOutput struct {
	ContextSkill  string        `json:"context_skill"`
	MessagerSkill string        `json:"messager_skill"`
	EffectiveOut  string        `json:"effective_out"`
	Context       *skills.Skill `json:"context"`
	Messager      *skills.Skill `json:"messager"`
	Prompt        string        `json:"prompt"`
	Size          prompt.Size   `json:"size"`
}

// RouteSkills derives the context and messager skills and looks both up.
// An unregistered skill is an UNKNOWN_SKILL error.
func RouteSkills(env *Env, input RouteSkillsInput) (*RouteSkillsOutput, error) {
	in, err := channel.Parse(input.InChannel)
	if err != nil {
		return nil, err
	}
	out, err := channel.ParseOptional(input.OutChannel)
	if err != nil {
		return nil, err
	}

	routing, err := skills.Route(env.Registry(), in, out)
	if err != nil {
		return nil, err
	}
	rendered := skills.Render(routing.Context, routing.Messager)
	return &RouteSkillsOutput{
		ContextSkill:  skills.ContextSkill(in),
		MessagerSkill: skills.MessagerSkill(in, out),
		EffectiveOut:  channel.EffectiveOut(in, out).String(),
		Context:       routing.Context,
		Messager:      routing.Messager,
		Prompt:        rendered,
		Size:          prompt.Measure(rendered),
	}, nil
}
