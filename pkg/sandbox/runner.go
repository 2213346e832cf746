package sandbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// DefaultTimeout is the hard wall-clock limit for sandboxed execution.
const DefaultTimeout = 5000 * time.Millisecond

// ErrTimeout marks a sandboxed execution aborted by the wall-clock limit.
var ErrTimeout = errors.New("sandboxed execution timed out")

// RunError carries the failure of a script execution, with the interpreter
// stack where one was available.
type RunError struct {
	Message string
	Stack   string
}

func (e *RunError) Error() string { return e.Message }

// Config restricts sandboxed execution.
type Config struct {
	Timeout         time.Duration
	AllowedPackages map[string]bool
}

// DefaultConfig returns the standard sandbox restrictions.
func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		AllowedPackages: DefaultAllowedPackages(),
	}
}

// IsAllowed reports whether scripts may import pkg. The SDK path is always
// permitted.
func (c Config) IsAllowed(pkg string) bool {
	return pkg == SDKImportPath || c.AllowedPackages[pkg]
}

// Module is a validated local dependency of a script. Modules are evaluated
// into the interpreter ahead of the script that requires them, dependencies
// first; their top-level declarations land in the script's package scope and
// are referenced unqualified.
type Module struct {
	Name   string
	Source string
}

func moduleSet(modules []Module) map[string]bool {
	if len(modules) == 0 {
		return nil
	}
	set := make(map[string]bool, len(modules))
	for _, m := range modules {
		set[m.Name] = true
	}
	return set
}

// Runner executes untrusted scripts in an isolated interpreter with a
// restricted symbol table and a hard timeout.
type Runner struct {
	config Config
}

// NewRunner creates a sandboxed runner.
func NewRunner(config Config) *Runner {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.AllowedPackages == nil {
		config.AllowedPackages = DefaultAllowedPackages()
	}
	return &Runner{config: config}
}

// Run executes the script's Run function against the bundle. modules are the
// script's pre-validated local dependencies; an import that is neither
// allow-listed nor covered by a supplied module is rejected before
// evaluation. A timeout or panic inside the script surfaces as a RunError.
func (r *Runner) Run(ctx context.Context, script string, b *Bundle, modules ...Module) error {
	locals := moduleSet(modules)
	if err := r.checkImports(script, locals); err != nil {
		return err
	}

	i := interp.New(interp.Options{})
	if err := i.Use(RestrictedSymbols(r.config.AllowedPackages)); err != nil {
		return fmt.Errorf("load restricted symbols: %w", err)
	}
	if err := i.Use(SDKExports()); err != nil {
		return fmt.Errorf("load sdk symbols: %w", err)
	}

	// Dependencies carry the same restrictions as the script itself.
	for _, m := range modules {
		if err := r.checkImports(m.Source, locals); err != nil {
			return err
		}
		if _, err := i.Eval(stripLocalImports(m.Source, locals)); err != nil {
			return &RunError{Message: fmt.Sprintf("required module %q failed to evaluate: %v", m.Name, err)}
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	return invoke(execCtx, i, stripLocalImports(script, locals), b, true)
}

func (r *Runner) checkImports(source string, locals map[string]bool) error {
	imports, err := ExtractImports(source)
	if err != nil {
		return &RunError{Message: fmt.Sprintf("script does not parse: %v", err)}
	}
	for _, imp := range imports {
		if !r.config.IsAllowed(imp) && !locals[LocalName(imp)] {
			return &RunError{Message: fmt.Sprintf("import %q is not permitted in sandboxed actions", imp)}
		}
	}
	return nil
}

// TrustedRunner executes platform-shipped scripts in-process with the full
// standard library and no timeout. Isolation cost is not paid here because
// trusted actions are maintainer-authored.
type TrustedRunner struct{}

// NewTrustedRunner creates the trusted in-process runner.
func NewTrustedRunner() *TrustedRunner {
	return &TrustedRunner{}
}

func (r *TrustedRunner) Run(ctx context.Context, script string, b *Bundle, modules ...Module) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(SDKExports()); err != nil {
		return fmt.Errorf("load sdk symbols: %w", err)
	}

	locals := moduleSet(modules)
	for _, m := range modules {
		if _, err := i.Eval(stripLocalImports(m.Source, locals)); err != nil {
			return &RunError{Message: fmt.Sprintf("required module %q failed to evaluate: %v", m.Name, err)}
		}
	}

	return invoke(ctx, i, stripLocalImports(script, locals), b, false)
}

// invoke evaluates the script, resolves the entry point, and calls it. When
// bounded is set the call is raced against the context deadline; the script
// goroutine cannot be preempted and is abandoned on timeout.
func invoke(ctx context.Context, i *interp.Interpreter, script string, b *Bundle, bounded bool) error {
	if _, err := i.Eval(WrapScript(script)); err != nil {
		return &RunError{Message: fmt.Sprintf("script evaluation failed: %v", err)}
	}

	v, err := i.Eval(EntryPoint)
	if err != nil {
		return &RunError{Message: fmt.Sprintf("script does not export Run: %v", err)}
	}
	run, ok := v.Interface().(func(*Bundle) error)
	if !ok {
		return &RunError{Message: "Run has the wrong signature, want func(*sdk.Bundle) error"}
	}

	if !bounded {
		return callRecovered(run, b)
	}

	done := make(chan error, 1)
	go func() {
		done <- callRecovered(run, b)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

func callRecovered(run func(*Bundle) error, b *Bundle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RunError{
				Message: fmt.Sprintf("script panicked: %v", rec),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return run(b)
}
