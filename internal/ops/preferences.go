package ops

import (
	"github.com/hpungsan/kapy/internal/prefs"
	"github.com/hpungsan/kapy/internal/prompt"
)

// PreferencesInput contains parameters for the Preferences operation.
type PreferencesInput struct {
	InChannel string // required
	ActorID   string // optional; adds <root>/by_user/<actor>.md
}

// PreferencesOutput contains the resolved documents and the rendered prompt block.
type PreferencesOutput struct {
	Documents []prefs.Document `json:"documents"`
	Prompt    string           `json:"prompt"`
	Size      prompt.Size      `json:"size"`
}

// Preferences resolves the preference documents for a channel and actor.
func Preferences(env *Env, input PreferencesInput) (*PreferencesOutput, error) {
	docs, err := env.Preferences().Resolve(input.InChannel, input.ActorID)
	if err != nil {
		return nil, err
	}
	rendered := prefs.Render(docs)
	return &PreferencesOutput{
		Documents: docs,
		Prompt:    rendered,
		Size:      prompt.Measure(rendered),
	}, nil
}
