package core

import "fmt"

// Well-known request keys.
const (
	KeySessionID       = "session_id"
	KeyAction          = "action"
	KeyCode            = "code"
	KeyMessage         = "message"
	KeyTaskType        = "task_type"
	KeyDescription     = "description"
	KeyPreviousResult  = "previous_result"
	KeyState           = "state"
	KeyAssets          = "assets"
	KeyUserID          = "user_id"
	KeyProject         = "project"
	KeyTaskDescription = "task_description"
)

// Request is the open parameter bag an agent consumes. Each agent interprets
// the keys it recognizes and ignores the rest.
//
// A Request must be treated as immutable once dispatched. Agents that need to
// augment a request for a downstream call build a new one via With or Extend.
type Request map[string]any

// Get returns the raw value stored under key.
func (r Request) Get(key string) (any, bool) {
	v, ok := r[key]
	return v, ok
}

// String returns the value under key when it is a string, "" otherwise.
func (r Request) String(key string) string {
	if s, ok := r[key].(string); ok {
		return s
	}
	return ""
}

// SessionID returns the session identifier carried by the request.
func (r Request) SessionID() string { return r.String(KeySessionID) }

// Action returns the requested action.
func (r Request) Action() string { return r.String(KeyAction) }

// With returns a shallow copy of r with key set to value.
func (r Request) With(key string, value any) Request {
	out := make(Request, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out[key] = value
	return out
}

// Extend returns a shallow copy of r with every entry of extra applied.
func (r Request) Extend(extra map[string]any) Request {
	out := make(Request, len(r)+len(extra))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of r.
func (r Request) Clone() Request { return r.Extend(nil) }

// TaskDescription derives a short human readable description used in
// delegation records.
func (r Request) TaskDescription() string {
	for _, key := range []string{KeyTaskDescription, KeyDescription, KeyMessage} {
		if s := r.String(key); s != "" {
			return s
		}
	}
	if a := r.Action(); a != "" {
		return a
	}
	if _, ok := r[KeyCode]; ok {
		return "execute code"
	}
	return ""
}

// Text renders the request as a prompt for inference backends: the message
// when present, otherwise a key=value listing.
func (r Request) Text() string {
	if m := r.String(KeyMessage); m != "" {
		return m
	}
	if p := r.String("prompt"); p != "" {
		return p
	}
	return fmt.Sprintf("%v", map[string]any(r))
}
