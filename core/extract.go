package core

import (
	"fmt"
	"regexp"
	"strings"
)

// textKeys are the map keys probed for a textual answer, in order.
var textKeys = []string{"response", "text", "content", "message", "output", "result"}

var objectRepr = regexp.MustCompile(`^(&?\{|map\[|\[\]|0x[0-9a-fA-F]+$|<.*>$)|object at 0x`)

const maxExtractDepth = 8

// ExtractText locates the textual answer in a heterogeneous inference result.
// Candidates are tried in this order:
//
//  1. state[ResponseKey(agent)] when state and agent are given
//  2. value itself when it is a string
//  3. the keys response, text, content, message, output, result
//  4. the nested event_actions state delta
//  5. the printed value, unless it looks like an object representation
//
// It returns "" when no candidate qualifies.
func ExtractText(value any, state map[string]any, agent string) string {
	if agent != "" && state != nil {
		if s, ok := state[ResponseKey(agent)].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if s := extract(value, agent, 0); s != "" {
		return s
	}
	return stringify(value)
}

func extract(value any, agent string, depth int) string {
	if depth > maxExtractDepth || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case *Content:
		return strings.TrimSpace(v.Text())
	case Event:
		if s := extract(v.Output, agent, depth+1); s != "" {
			return s
		}
		return strings.TrimSpace(v.Content.Text())
	case []Event:
		for i := len(v) - 1; i >= 0; i-- {
			if s := extract(v[i], agent, depth+1); s != "" {
				return s
			}
		}
		return ""
	case Outcome:
		return extract(v.Output, agent, depth+1)
	}

	m := asMap(value)
	if m == nil {
		return ""
	}
	for _, key := range textKeys {
		if s := extract(m[key], agent, depth+1); s != "" {
			return s
		}
	}
	if actions, ok := ParseEventActions(m[KeyEventActions]); ok && len(actions.StateDelta) > 0 {
		if agent != "" {
			if s := extract(actions.StateDelta[ResponseKey(agent)], agent, depth+1); s != "" {
				return s
			}
		}
		for _, key := range textKeys {
			if s := extract(actions.StateDelta[key], agent, depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

func asMap(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case Result:
		return v
	case Request:
		return v
	default:
		return nil
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if asMap(value) != nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprint(value))
	if s == "" || s == "<nil>" || objectRepr.MatchString(s) {
		return ""
	}
	return s
}
