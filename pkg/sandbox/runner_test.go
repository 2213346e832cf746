package sandbox_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoserve/actionkernel/pkg/contracts"
	"github.com/convoserve/actionkernel/pkg/sandbox"
)

func newEvent() *contracts.Event {
	return &contracts.Event{ID: "ev1", BotID: "bot1", Channel: "web", State: contracts.NewState()}
}

func TestRunner_RunMutatesState(t *testing.T) {
	script := `
import "actionkernel/sdk"

func Run(b *sdk.Bundle) error {
	b.Temp["x"] = 1
	b.User["greeted"] = true
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, nil))
	require.NoError(t, err)

	assert.Equal(t, 1, ev.State.Temp["x"])
	assert.Equal(t, true, ev.State.User["greeted"])
}

func TestRunner_AllowedStdlibImports(t *testing.T) {
	script := `
import (
	"fmt"
	"strings"

	"actionkernel/sdk"
)

func Run(b *sdk.Bundle) error {
	b.Temp["msg"] = fmt.Sprintf("hello %s", strings.ToUpper("world"))
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, nil))
	require.NoError(t, err)
	assert.Equal(t, "hello WORLD", ev.State.Temp["msg"])
}

func TestRunner_RejectsForbiddenImport(t *testing.T) {
	script := `
import (
	"os"

	"actionkernel/sdk"
)

func Run(b *sdk.Bundle) error {
	b.Temp["home"] = os.Getenv("HOME")
	return nil
}
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.Error(t, err)

	var runErr *sandbox.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, `"os"`)
}

func TestRunner_LocalModuleDeclarationsAreCallable(t *testing.T) {
	helper := `
import "strings"

func Shout(s string) string {
	return strings.ToUpper(s) + "!"
}
`
	script := `
import (
	"actionkernel/sdk"

	"./helpers"
)

func Run(b *sdk.Bundle) error {
	b.Temp["greeting"] = Shout("hi")
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, nil),
		sandbox.Module{Name: "helpers", Source: helper})
	require.NoError(t, err)
	assert.Equal(t, "HI!", ev.State.Temp["greeting"])
}

func TestRunner_LocalModuleImportsStayRestricted(t *testing.T) {
	// A dependency must not smuggle in packages the script itself could not
	// import.
	helper := `
import "os"

func Home() string { return os.Getenv("HOME") }
`
	script := `
import (
	"actionkernel/sdk"

	"./helpers"
)

func Run(b *sdk.Bundle) error {
	b.Temp["home"] = Home()
	return nil
}
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil),
		sandbox.Module{Name: "helpers", Source: helper})
	require.Error(t, err)

	var runErr *sandbox.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, `"os"`)
}

func TestRunner_UnsuppliedLocalImportRejected(t *testing.T) {
	script := `
import (
	"actionkernel/sdk"

	"./helpers"
)

func Run(b *sdk.Bundle) error { return nil }
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.Error(t, err)

	var runErr *sandbox.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, `"./helpers"`)
}

func TestRunner_ArgsArePassedThrough(t *testing.T) {
	script := `
import "actionkernel/sdk"

func Run(b *sdk.Bundle) error {
	b.Temp["echo"] = b.Args["input"]
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, map[string]any{"input": "ping"}))
	require.NoError(t, err)
	assert.Equal(t, "ping", ev.State.Temp["echo"])
}

func TestRunner_ScriptErrorIsReturned(t *testing.T) {
	script := `
import (
	"errors"

	"actionkernel/sdk"
)

func Run(b *sdk.Bundle) error {
	return errors.New("nothing to do")
}
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to do")
}

func TestRunner_PanicBecomesRunErrorWithStack(t *testing.T) {
	script := `
import "actionkernel/sdk"

func Run(b *sdk.Bundle) error {
	var m map[string]int
	m["boom"] = 1
	return nil
}
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.Error(t, err)

	var runErr *sandbox.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, "panicked")
	assert.NotEmpty(t, runErr.Stack)
}

func TestRunner_TimeoutAbandonsScript(t *testing.T) {
	script := `
import (
	"time"

	"actionkernel/sdk"
)

func Run(b *sdk.Bundle) error {
	time.Sleep(10 * time.Second)
	return nil
}
`
	cfg := sandbox.DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	r := sandbox.NewRunner(cfg)

	start := time.Now()
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.ErrorIs(t, err, sandbox.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunner_MissingRunFunction(t *testing.T) {
	script := `
import "actionkernel/sdk"

func Handle(b *sdk.Bundle) error { return nil }
`
	r := sandbox.NewRunner(sandbox.DefaultConfig())
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, newEvent(), nil))
	require.Error(t, err)

	var runErr *sandbox.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, runErr.Message, "Run")
}

func TestTrustedRunner_FullStdlibAvailable(t *testing.T) {
	// Trusted scripts may reach packages the sandbox forbids.
	script := `
import (
	"os"

	"actionkernel/sdk"
)

func Run(b *sdk.Bundle) error {
	b.Temp["hostname"], _ = os.Hostname()
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewTrustedRunner()
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, nil))
	require.NoError(t, err)
	assert.Contains(t, ev.State.Temp, "hostname")
}

func TestTrustedRunner_LocalModuleDeclarationsAreCallable(t *testing.T) {
	helper := `
import "os"

func Host() string {
	h, _ := os.Hostname()
	return h
}
`
	script := `
import (
	"actionkernel/sdk"

	"./sysinfo"
)

func Run(b *sdk.Bundle) error {
	b.Temp["host"] = Host()
	return nil
}
`
	ev := newEvent()
	r := sandbox.NewTrustedRunner()
	err := r.Run(context.Background(), script, sandbox.NewBundle(nil, ev, nil),
		sandbox.Module{Name: "sysinfo", Source: helper})
	require.NoError(t, err)
	assert.Contains(t, ev.State.Temp, "host")
}

func TestNewBundle_AliasesStateBuckets(t *testing.T) {
	ev := &contracts.Event{ID: "ev1"}
	b := sandbox.NewBundle("api", ev, nil)

	require.NotNil(t, ev.State)
	b.Temp["k"] = "v"
	assert.Equal(t, "v", ev.State.Temp["k"])
	assert.Equal(t, "api", b.API)
	assert.NotNil(t, b.Args)
}
