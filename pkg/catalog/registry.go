package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/convoserve/actionkernel/pkg/contentstore"
	"github.com/convoserve/actionkernel/pkg/workspace"
)

// ErrActionNotFound is returned when a requested action is absent from the
// merged catalog.
var ErrActionNotFound = errors.New("action not found")

// ActionsDirectory is the content-store directory holding scripts.
const ActionsDirectory = "actions"

// ScriptPattern matches action script files during enumeration.
const ScriptPattern = "*" + ScriptExtension

// excludedDirs are vendored dependency trees skipped during enumeration.
var excludedDirs = []string{"vendor/**", "node_modules/**"}

type scriptKey struct {
	Name     string
	Legacy   bool
	Location Location
}

// Scope is the per-bot cache state: catalog caches, raw script cache,
// validated-requires set, and the bot→workspace memo. Created lazily, kept
// for process lifetime, cleared wholesale on invalidation.
type Scope struct {
	mu           sync.Mutex
	botID        string
	global       []Definition // nil until populated
	globalSet    bool
	local        []Definition
	localSet     bool
	scripts      map[scriptKey]string
	validated    map[string]bool
	workspaceID  string
	workspaceSet bool
}

func newScope(botID string) *Scope {
	return &Scope{
		botID:     botID,
		scripts:   make(map[scriptKey]string),
		validated: make(map[string]bool),
	}
}

func (s *Scope) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = nil
	s.globalSet = false
	s.local = nil
	s.localSet = false
	s.scripts = make(map[scriptKey]string)
	s.validated = make(map[string]bool)
	s.workspaceID = ""
	s.workspaceSet = false
}

// Registry owns the map from bot id to scoped state. It is process-wide
// singleton state, created at service startup and torn down only at exit.
type Registry struct {
	mu     sync.Mutex
	scopes map[string]*Scope

	store      contentstore.Store
	workspaces workspace.Resolver
	log        *slog.Logger
}

// NewRegistry creates the action registry over the given collaborators.
func NewRegistry(store contentstore.Store, ws workspace.Resolver, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		scopes:     make(map[string]*Scope),
		store:      store,
		workspaces: ws,
		log:        log.With("component", "catalog"),
	}
}

// scope returns the per-bot state, creating it under the registry lock so a
// racing second caller reuses the first scope.
func (r *Registry) scope(botID string) *Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scopes[botID]
	if !ok {
		sc = newScope(botID)
		r.scopes[botID] = sc
	}
	return sc
}

// ListActions returns the bot's visible actions, global actions first, then
// local, preserving each group's enumeration order. Duplicate names across
// scopes are not deduplicated.
func (r *Registry) ListActions(ctx context.Context, botID string) ([]Definition, error) {
	sc := r.scope(botID)

	global, err := r.actionsForLocation(ctx, sc, LocationGlobal)
	if err != nil {
		return nil, err
	}
	local, err := r.actionsForLocation(ctx, sc, LocationLocal)
	if err != nil {
		return nil, err
	}

	out := make([]Definition, 0, len(global)+len(local))
	out = append(out, global...)
	out = append(out, local...)
	return out, nil
}

// HasAction reports whether an action name is present in the merged catalog.
func (r *Registry) HasAction(ctx context.Context, botID, name string) (bool, error) {
	defs, err := r.ListActions(ctx, botID)
	if err != nil {
		return false, err
	}
	for _, d := range defs {
		if d.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// FindAction returns the first definition matching name in merged order
// (global before local), or ErrActionNotFound.
func (r *Registry) FindAction(ctx context.Context, botID, name string) (Definition, error) {
	defs, err := r.ListActions(ctx, botID)
	if err != nil {
		return Definition{}, err
	}
	for _, d := range defs {
		if d.Name == name {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("%q for bot %q: %w", name, botID, ErrActionNotFound)
}

// GlobalHasAction reports whether name exists in the global catalog. The
// trust classifier depends on this distinction: local actions are never
// trusted regardless of naming.
func (r *Registry) GlobalHasAction(ctx context.Context, botID, name string) (bool, error) {
	sc := r.scope(botID)
	global, err := r.actionsForLocation(ctx, sc, LocationGlobal)
	if err != nil {
		return false, err
	}
	for _, d := range global {
		if d.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// actionsForLocation returns the cached listing, or enumerates and populates
// it. Concurrent callers racing an empty cache each populate independently;
// population is idempotent and the last writer wins.
func (r *Registry) actionsForLocation(ctx context.Context, sc *Scope, loc Location) ([]Definition, error) {
	sc.mu.Lock()
	if loc == LocationGlobal && sc.globalSet {
		defs := sc.global
		sc.mu.Unlock()
		return defs, nil
	}
	if loc == LocationLocal && sc.localSet {
		defs := sc.local
		sc.mu.Unlock()
		return defs, nil
	}
	sc.mu.Unlock()

	defs, err := r.enumerate(ctx, sc.botID, loc)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	if loc == LocationGlobal {
		sc.global = defs
		sc.globalSet = true
	} else {
		sc.local = defs
		sc.localSet = true
	}
	sc.mu.Unlock()
	return defs, nil
}

func (r *Registry) enumerate(ctx context.Context, botID string, loc Location) ([]Definition, error) {
	scope := contentstore.GlobalScope
	if loc == LocationLocal {
		scope = contentstore.BotScope(botID)
	}

	files, err := r.store.List(ctx, scope, ActionsDirectory, ScriptPattern, excludedDirs)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s actions for bot %q: %w", loc, botID, err)
	}

	defs := make([]Definition, 0, len(files))
	for _, rel := range files {
		if isDisabled(rel) {
			continue
		}
		name, legacy := nameFromPath(rel)
		def := Definition{Name: name, Location: loc, Legacy: legacy}

		source, err := r.store.ReadString(ctx, scope, ActionsDirectory, rel)
		if err != nil {
			r.log.Warn("could not read action source for metadata", "bot", botID, "action", name, "error", err)
		} else {
			def.Metadata = extractMetadata(source, name, r.log)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ScriptFor returns the raw script text for a definition, cache-first. The
// cache key is the compound (name, legacy, location) for both lookup and
// population, so same-named legacy and non-legacy actions never collide.
func (r *Registry) ScriptFor(ctx context.Context, botID string, def Definition) (string, error) {
	sc := r.scope(botID)
	key := scriptKey{Name: def.Name, Legacy: def.Legacy, Location: def.Location}

	sc.mu.Lock()
	if text, ok := sc.scripts[key]; ok {
		sc.mu.Unlock()
		return text, nil
	}
	sc.mu.Unlock()

	scope := contentstore.GlobalScope
	filename := def.Name + ScriptExtension
	if def.Location == LocationLocal {
		scope = contentstore.BotScope(botID)
		if !def.Legacy {
			filename = def.Name + HTTPScriptExtension
		}
	}

	text, err := r.store.ReadString(ctx, scope, ActionsDirectory, filename)
	if err != nil {
		return "", fmt.Errorf("load script for action %q: %w", def.Name, err)
	}

	sc.mu.Lock()
	sc.scripts[key] = text
	sc.mu.Unlock()
	return text, nil
}

// IsValidated reports whether an action's require graph has already passed
// validation since the last invalidation.
func (r *Registry) IsValidated(botID, name string) bool {
	sc := r.scope(botID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.validated[name]
}

// MarkValidated records a successful require validation for an action.
func (r *Registry) MarkValidated(botID, name string) {
	sc := r.scope(botID)
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.validated[name] = true
}

// WorkspaceFor resolves the bot's owning workspace, memoized per bot until
// invalidation.
func (r *Registry) WorkspaceFor(ctx context.Context, botID string) (string, error) {
	sc := r.scope(botID)

	sc.mu.Lock()
	if sc.workspaceSet {
		ws := sc.workspaceID
		sc.mu.Unlock()
		return ws, nil
	}
	sc.mu.Unlock()

	ws, err := r.workspaces.WorkspaceForBot(ctx, botID)
	if err != nil {
		return "", fmt.Errorf("resolve workspace for bot %q: %w", botID, err)
	}

	sc.mu.Lock()
	sc.workspaceID = ws
	sc.workspaceSet = true
	sc.mu.Unlock()
	return ws, nil
}

// InvalidateBot drops every cache in the bot's scope.
func (r *Registry) InvalidateBot(botID string) {
	r.mu.Lock()
	sc, ok := r.scopes[botID]
	r.mu.Unlock()
	if ok {
		sc.clear()
		r.log.Debug("cleared action caches", "bot", botID)
	}
}

// InvalidateAll drops every cache in every scope.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	scopes := make([]*Scope, 0, len(r.scopes))
	for _, sc := range r.scopes {
		scopes = append(scopes, sc)
	}
	r.mu.Unlock()

	for _, sc := range scopes {
		sc.clear()
	}
	r.log.Debug("cleared action caches for all bots")
}
