// Package contracts holds the shared types exchanged between the action
// catalog, the execution router, and the remote delegation client.
package contracts

// Event is the conversational event an action runs against. Actions mutate
// State in place; the router hands the same object back to the caller.
type Event struct {
	ID        string         `json:"id"`
	BotID     string         `json:"botId"`
	Channel   string         `json:"channel"`
	Target    string         `json:"target"`
	Type      string         `json:"type"`
	Direction string         `json:"direction,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	State     *State         `json:"state"`
}

// State carries the mutable dialog state buckets scripts may write to.
type State struct {
	Temp    map[string]any `json:"temp"`
	User    map[string]any `json:"user"`
	Session map[string]any `json:"session"`
}

// NewState returns a State with all buckets allocated.
func NewState() *State {
	return &State{
		Temp:    make(map[string]any),
		User:    make(map[string]any),
		Session: make(map[string]any),
	}
}

// EnsureState allocates any missing state bucket on the event. Remote servers
// and callers are not required to send fully-populated state.
func (e *Event) EnsureState() {
	if e.State == nil {
		e.State = NewState()
	}
	if e.State.Temp == nil {
		e.State.Temp = make(map[string]any)
	}
	if e.State.User == nil {
		e.State.User = make(map[string]any)
	}
	if e.State.Session == nil {
		e.State.Session = make(map[string]any)
	}
}

// ActionServer addresses an external process that executes actions remotely.
// The ID correlates audit records; BaseURL is the HTTP root of the server.
type ActionServer struct {
	ID      string `json:"id"`
	BaseURL string `json:"baseUrl"`
}

// APIFactory builds the per-call capability handle injected into a script
// bundle. The handle is an external collaborator; the router only requires
// that a fresh one is produced for every execution.
type APIFactory func(ev *Event) any
