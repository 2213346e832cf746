// Package sandbox executes action scripts through the yaegi interpreter.
// Two strategies exist: the trusted runner (full standard library, no
// timeout) for platform-shipped actions, and the sandboxed runner (restricted
// symbol table, hard wall-clock timeout) for bot-authored code.
package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/convoserve/actionkernel/pkg/contracts"
)

// SDKImportPath is the import path scripts use to reach the injected types.
const SDKImportPath = "actionkernel/sdk"

// EntryPoint is the function every action script must export.
const EntryPoint = "main.Run"

// Bundle is the execution-argument bundle handed to a script's Run function.
// User, Temp and Session alias the event's state buckets, so writes through
// either surface are visible to the caller.
type Bundle struct {
	// API is the per-call capability handle. Its concrete type is owned by
	// the embedding platform.
	API any

	Event   *contracts.Event
	User    map[string]any
	Temp    map[string]any
	Session map[string]any
	Args    map[string]any

	// Print renders a value for operator logs, the scripting analog of a
	// debug printer.
	Print func(v any)

	// Env is the restricted view of process-level globals exposed to
	// scripts. Only ACTION_-prefixed variables are visible.
	Env map[string]string
}

// NewBundle builds a bundle around an event, allocating missing state.
func NewBundle(api any, ev *contracts.Event, args map[string]any) *Bundle {
	ev.EnsureState()
	if args == nil {
		args = make(map[string]any)
	}
	return &Bundle{
		API:     api,
		Event:   ev,
		User:    ev.State.User,
		Temp:    ev.State.Temp,
		Session: ev.State.Session,
		Args:    args,
		Print:   printValue,
		Env:     restrictedEnv(),
	}
}

const envPrefix = "ACTION_"

func restrictedEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		out[key] = value
	}
	return out
}

func printValue(v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stdout, "%v\n", v)
		return
	}
	fmt.Fprintf(os.Stdout, "%s\n", raw)
}
