package record

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Actor returns the sender id of r: ActorID when set, otherwise the
// "message.from.id" or "from.id" field of a JSON input payload.
func (r *Record) Actor() string {
	if r.ActorID != "" {
		return r.ActorID
	}
	return actorFromInput(r.Input)
}

func actorFromInput(input string) string {
	s := strings.TrimSpace(input)
	if !strings.HasPrefix(s, "{") {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return ""
	}
	if msg, ok := payload["message"].(map[string]any); ok {
		if id := fromID(msg); id != "" {
			return id
		}
	}
	return fromID(payload)
}

func fromID(obj map[string]any) string {
	from, ok := obj["from"].(map[string]any)
	if !ok {
		return ""
	}
	switch v := from["id"].(type) {
	case json.Number:
		return v.String()
	case string:
		return v
	}
	return ""
}
