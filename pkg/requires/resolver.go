// Package requires validates a script's module-require graph before any code
// compiles. It is a security gate: untrusted bot-authored scripts must not be
// able to pull host files from outside the approved lookup roots.
package requires

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/traefik/yaegi/interp"

	"github.com/convoserve/actionkernel/pkg/catalog"
	"github.com/convoserve/actionkernel/pkg/contentstore"
	"github.com/convoserve/actionkernel/pkg/sandbox"
)

// ValidationError reports a require graph that failed the security check.
type ValidationError struct {
	ActionName string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("action %q failed require validation", e.ActionName)
}

// Resolver walks a script's import graph, checks every required module
// against the permitted lookup roots, and loads validated graphs for
// execution. Check results are memoized per bot by action name until the
// bot's scope is invalidated; validity is not re-checked when a dependent
// file changes without an invalidation event.
type Resolver struct {
	reg    *catalog.Registry
	store  contentstore.Store
	config sandbox.Config
	log    *slog.Logger
}

// NewResolver creates the require resolver.
func NewResolver(reg *catalog.Registry, store contentstore.Store, config sandbox.Config, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		reg:    reg,
		store:  store,
		config: config,
		log:    log.With("component", "requires"),
	}
}

// Check reports whether the action's require graph stays within the permitted
// lookup roots. A false result means execution must not proceed.
func (r *Resolver) Check(ctx context.Context, botID string, def catalog.Definition) bool {
	if r.reg.IsValidated(botID, def.Name) {
		return true
	}

	script, err := r.reg.ScriptFor(ctx, botID, def)
	if err != nil {
		r.log.Warn("could not load script for require validation", "bot", botID, "action", def.Name, "error", err)
		return false
	}

	scope := contentstore.GlobalScope
	if def.Location == catalog.LocationLocal {
		scope = contentstore.BotScope(botID)
	}

	inProgress := map[string]bool{def.Name: true}
	if !r.checkSource(ctx, botID, scope, def.Name, script, inProgress) {
		return false
	}

	r.reg.MarkValidated(botID, def.Name)
	return true
}

// Modules loads the action's local require graph in evaluation order,
// dependencies before the files that require them. The action's own source is
// excluded; runners evaluate the returned modules into the interpreter ahead
// of it. Load failures and root escapes are errors.
func (r *Resolver) Modules(ctx context.Context, botID string, def catalog.Definition) ([]sandbox.Module, error) {
	script, err := r.reg.ScriptFor(ctx, botID, def)
	if err != nil {
		return nil, fmt.Errorf("load script for %q: %w", def.Name, err)
	}

	scope := contentstore.GlobalScope
	if def.Location == catalog.LocationLocal {
		scope = contentstore.BotScope(botID)
	}

	visited := map[string]bool{def.Name: true}
	var modules []sandbox.Module
	if err := r.collect(ctx, scope, script, visited, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

func (r *Resolver) collect(ctx context.Context, scope contentstore.Scope, source string, visited map[string]bool, out *[]sandbox.Module) error {
	imports, err := sandbox.ExtractImports(source)
	if err != nil {
		return fmt.Errorf("script does not parse: %w", err)
	}
	for _, imp := range imports {
		if r.config.IsAllowed(imp) {
			continue
		}
		if escapesRoots(imp) {
			return fmt.Errorf("require %q escapes permitted lookup roots", imp)
		}
		rel := sandbox.LocalName(imp)
		if visited[rel] {
			continue
		}
		visited[rel] = true
		depSource, err := r.store.ReadString(ctx, scope, catalog.ActionsDirectory, rel+catalog.ScriptExtension)
		if err != nil {
			return fmt.Errorf("required module %q: %w", rel, err)
		}
		if err := r.collect(ctx, scope, depSource, visited, out); err != nil {
			return err
		}
		*out = append(*out, sandbox.Module{Name: rel, Source: depSource})
	}
	return nil
}

// checkSource validates one script's imports. inProgress tracks the files on
// the current recursion path; a cycle member already being checked counts as
// valid rather than recursing forever.
func (r *Resolver) checkSource(ctx context.Context, botID string, scope contentstore.Scope, name, source string, inProgress map[string]bool) bool {
	imports, err := sandbox.ExtractImports(source)
	if err != nil {
		r.log.Warn("script does not parse during require validation", "bot", botID, "module", name, "error", err)
		return false
	}

	for _, imp := range imports {
		if r.config.IsAllowed(imp) {
			continue
		}
		if escapesRoots(imp) {
			// Rejected on the name alone; the target is never read.
			r.log.Warn("require escapes permitted lookup roots", "bot", botID, "module", name, "require", imp)
			return false
		}

		rel := sandbox.LocalName(imp)
		if inProgress[rel] {
			continue
		}

		depSource, err := r.store.ReadString(ctx, scope, catalog.ActionsDirectory, rel+catalog.ScriptExtension)
		if err != nil {
			r.log.Warn("required local module could not be loaded", "bot", botID, "module", name, "require", imp, "error", err)
			return false
		}

		inProgress[rel] = true
		if !r.checkSource(ctx, botID, scope, rel, depSource, inProgress) {
			return false
		}
		if !r.probeExports(botID, rel, depSource) {
			return false
		}
	}
	return true
}

// probeExports evaluates a dependent file's top-level declarations in a
// scratch interpreter. An empty export surface is only worth a warning; a
// failing evaluation makes the parent unresolvable.
func (r *Resolver) probeExports(botID, name, source string) bool {
	imports, err := sandbox.ExtractImports(source)
	if err != nil {
		return false
	}
	for _, imp := range imports {
		if !r.config.IsAllowed(imp) {
			// The file pulls in other local modules; those were validated
			// recursively, but a scratch interpreter cannot resolve them,
			// so the export probe is skipped.
			r.log.Debug("skipping export probe for module with local requires", "bot", botID, "module", name)
			return true
		}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(sandbox.RestrictedSymbols(r.config.AllowedPackages)); err != nil {
		return false
	}
	if err := i.Use(sandbox.SDKExports()); err != nil {
		return false
	}
	if _, err := i.Eval(sandbox.WrapScript(source)); err != nil {
		r.log.Warn("required local module failed to evaluate", "bot", botID, "module", name, "error", err)
		return false
	}

	if len(i.Symbols("main")) == 0 {
		r.log.Warn("required local module exports nothing, missing top-level declarations?", "bot", botID, "module", name)
	}
	return true
}

// escapesRoots reports whether a require name resolves outside the permitted
// lookup roots: absolute paths and any relative path climbing above the
// actions directory are rejected.
func escapesRoots(imp string) bool {
	if path.IsAbs(imp) {
		return true
	}
	clean := path.Clean(imp)
	return clean == ".." || strings.HasPrefix(clean, "../")
}
