// Package workspace is the boundary to the collaborator mapping bots to
// their owning workspaces.
package workspace

import (
	"context"
	"sync"
)

// Resolver maps a bot identifier to its owning workspace identifier.
type Resolver interface {
	WorkspaceForBot(ctx context.Context, botID string) (string, error)
}

// DefaultWorkspace is used when a bot has no explicit assignment.
const DefaultWorkspace = "default"

// StaticResolver resolves workspaces from a fixed assignment table.
type StaticResolver struct {
	mu          sync.RWMutex
	assignments map[string]string
}

// NewStaticResolver creates a resolver over the given assignments; a nil map
// is allowed and resolves everything to DefaultWorkspace.
func NewStaticResolver(assignments map[string]string) *StaticResolver {
	if assignments == nil {
		assignments = make(map[string]string)
	}
	return &StaticResolver{assignments: assignments}
}

func (r *StaticResolver) WorkspaceForBot(ctx context.Context, botID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ws, ok := r.assignments[botID]; ok {
		return ws, nil
	}
	return DefaultWorkspace, nil
}

// Assign sets or replaces a bot's workspace.
func (r *StaticResolver) Assign(botID, workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[botID] = workspaceID
}
