// Package contentstore is the boundary to the versioned file storage holding
// bot script content. The core treats it as the source of truth for script
// text; implementations are expected to be hierarchical per bot plus a shared
// global scope.
package contentstore

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a requested file is absent.
	ErrNotFound = errors.New("content file not found")
)

// Scope selects the storage tree a read or listing operates on.
type Scope string

// GlobalScope is the scope shared across all bots.
const GlobalScope Scope = "global"

// BotScope returns the scope owning a single bot's content.
func BotScope(botID string) Scope {
	return Scope("bots/" + botID)
}

// Store is the contract consumed from the content storage collaborator.
type Store interface {
	// List enumerates files under directory within scope whose relative
	// path matches pattern, skipping anything matched by excludes. Paths
	// are returned relative to directory, in lexical order.
	List(ctx context.Context, scope Scope, directory, pattern string, excludes []string) ([]string, error)

	// ReadString returns the text content of directory/filename within
	// scope, or ErrNotFound if the file is absent.
	ReadString(ctx context.Context, scope Scope, directory, filename string) (string, error)
}

// matches reports whether rel matches pattern and none of the excludes.
// Patterns follow path.Match semantics; an exclude ending in "/**" matches
// any path under that prefix.
func matches(rel, pattern string, excludes []string) bool {
	base := path.Base(rel)
	ok, err := path.Match(pattern, base)
	if err != nil || !ok {
		return false
	}
	for _, ex := range excludes {
		if prefix, found := strings.CutSuffix(ex, "/**"); found {
			if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
				return false
			}
			continue
		}
		if ok, _ := path.Match(ex, rel); ok {
			return false
		}
	}
	return true
}
