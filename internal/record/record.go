// Package record defines memory records and their on-disk representation.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/kapy/internal/channel"
	kerrors "github.com/hpungsan/kapy/internal/errors"
)

// Record is one completed conversational exchange.
//
// Everything except Compacted is immutable once appended. Stores hand out
// copies; mutating a returned Record never changes stored state.
type Record struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	InChannel  string    `json:"in_channel"`
	OutChannel string    `json:"out_channel,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Parents    []string  `json:"parents"`
	Children   []string  `json:"children"`
	Writer     string    `json:"writer,omitempty"`

	Input     string            `json:"input"`
	Output    string            `json:"output"`
	Compacted []string          `json:"compacted"`
	Detailed  []json.RawMessage `json:"detailed,omitempty"`
}

// Core is the immutable metadata persisted as <id>.core.json and used as the
// core_json column of search output.
type Core struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	InChannel  string    `json:"in_channel"`
	OutChannel string    `json:"out_channel,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Parents    []string  `json:"parents"`
	Children   []string  `json:"children"`
	Writer     string    `json:"writer,omitempty"`
}

// Core returns r's metadata.
func (r *Record) Core() Core {
	return Core{
		ID:         r.ID,
		CreatedAt:  r.CreatedAt.UTC(),
		InChannel:  r.InChannel,
		OutChannel: r.OutChannel,
		ActorID:    r.ActorID,
		Parents:    nonNil(r.Parents),
		Children:   nonNil(r.Children),
		Writer:     r.Writer,
	}
}

// CoreJSON returns the compact JSON encoding of r's metadata.
func (r *Record) CoreJSON() ([]byte, error) {
	return json.Marshal(r.Core())
}

// Normalize validates channels and ids and brings r into canonical form:
// channels trimmed, out_channel dropped when equal to in_channel, nil slices
// replaced by empty ones, CreatedAt in UTC. ID may be empty (assigned later).
func (r *Record) Normalize() error {
	in, err := channel.Parse(r.InChannel)
	if err != nil {
		return err
	}
	out, err := channel.ParseOptional(r.OutChannel)
	if err != nil {
		return err
	}
	r.InChannel = in.String()
	r.OutChannel = ""
	if o := channel.NormalizeOut(in, out); o != nil {
		r.OutChannel = o.String()
	}

	if r.ID != "" && !IsValidID(r.ID) {
		return kerrors.NewInvalidRequest(fmt.Sprintf("invalid record id: %q", r.ID))
	}
	for _, link := range []struct {
		name string
		ids  []string
	}{{"parents", r.Parents}, {"children", r.Children}} {
		for _, id := range link.ids {
			if !IsValidID(id) {
				return kerrors.NewInvalidRequest(fmt.Sprintf("invalid %s id: %q", link.name, id))
			}
		}
	}
	r.Parents = dedup(r.Parents)
	r.Children = dedup(r.Children)

	for i, batch := range r.Detailed {
		if !isJSONArray(batch) {
			return kerrors.NewInvalidRequest(fmt.Sprintf("detailed[%d] must be a JSON array", i))
		}
	}
	if r.Compacted == nil {
		r.Compacted = []string{}
	}
	if !r.CreatedAt.IsZero() {
		r.CreatedAt = r.CreatedAt.UTC()
	}
	return nil
}

// In returns the parsed in_channel.
func (r *Record) In() (channel.Channel, error) {
	return channel.Parse(r.InChannel)
}

// EffectiveOut returns out_channel, or in_channel when unset.
func (r *Record) EffectiveOut() string {
	if r.OutChannel != "" {
		return r.OutChannel
	}
	return r.InChannel
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Parents = append([]string(nil), r.Parents...)
	c.Children = append([]string(nil), r.Children...)
	c.Compacted = append([]string(nil), r.Compacted...)
	if r.Detailed != nil {
		c.Detailed = make([]json.RawMessage, len(r.Detailed))
		for i, b := range r.Detailed {
			c.Detailed[i] = append(json.RawMessage(nil), b...)
		}
	}
	return &c
}

// DetailLines returns the detailed log as JSONL lines: line 1 is the input
// as a JSON string, line 2 the output as a JSON string, then one compact JSON
// array per batch.
func (r *Record) DetailLines() ([]string, error) {
	lines := make([]string, 0, 2+len(r.Detailed))
	in, err := json.Marshal(r.Input)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(r.Output)
	if err != nil {
		return nil, err
	}
	lines = append(lines, string(in), string(out))
	for _, batch := range r.Detailed {
		var buf bytes.Buffer
		if err := json.Compact(&buf, batch); err != nil {
			return nil, err
		}
		lines = append(lines, buf.String())
	}
	return lines, nil
}

// FromParts assembles a record from its core metadata, detailed lines and
// compacted summary. Missing detail lines leave Input/Output empty.
func FromParts(core Core, detail []string, compacted []string) (*Record, error) {
	r := &Record{
		ID:         core.ID,
		CreatedAt:  core.CreatedAt.UTC(),
		InChannel:  core.InChannel,
		OutChannel: core.OutChannel,
		ActorID:    core.ActorID,
		Parents:    nonNil(core.Parents),
		Children:   nonNil(core.Children),
		Writer:     core.Writer,
		Compacted:  nonNil(compacted),
	}
	if len(detail) > 0 {
		if err := json.Unmarshal([]byte(detail[0]), &r.Input); err != nil {
			return nil, fmt.Errorf("detailed line 1: %w", err)
		}
	}
	if len(detail) > 1 {
		if err := json.Unmarshal([]byte(detail[1]), &r.Output); err != nil {
			return nil, fmt.Errorf("detailed line 2: %w", err)
		}
	}
	for i := 2; i < len(detail); i++ {
		line := strings.TrimSpace(detail[i])
		if line == "" {
			continue
		}
		r.Detailed = append(r.Detailed, json.RawMessage(line))
	}
	return r, nil
}

// ParseCore decodes core JSON and checks the fields every scan relies on.
func ParseCore(data []byte) (Core, error) {
	var c Core
	if err := json.Unmarshal(data, &c); err != nil {
		return Core{}, err
	}
	if !IsValidID(c.ID) {
		return Core{}, fmt.Errorf("invalid id %q", c.ID)
	}
	if _, err := channel.Parse(c.InChannel); err != nil {
		return Core{}, err
	}
	return c, nil
}

// SplitLines splits JSONL content, dropping a trailing empty line.
func SplitLines(data []byte) []string {
	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// JoinLines renders lines as JSONL with a trailing newline.
func JoinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func isJSONArray(b json.RawMessage) bool {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || t[0] != '[' {
		return false
	}
	return json.Valid(t)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func dedup(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
