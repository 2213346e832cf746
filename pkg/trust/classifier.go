// Package trust decides which execution strategy an action may use. Trusted
// actions ship with the platform and run in-process without isolation;
// everything else is arbitrary bot-authored code and goes to the sandbox.
package trust

import (
	"context"
	"strings"

	"github.com/convoserve/actionkernel/pkg/catalog"
)

// builtinNamespaces is the fixed allow-list of built-in module namespaces
// agreed at build time. An action is trusted only if its top-level namespace
// segment is in this set and the action exists in the global catalog.
var builtinNamespaces = map[string]struct{}{
	"analytics":        {},
	"basic-skills":     {},
	"builtin":          {},
	"channel-web":      {},
	"channel-telegram": {},
	"nlu":              {},
	"qna":              {},
	"workflow":         {},
}

// Classifier gates the trusted in-process execution path.
type Classifier struct {
	catalog *catalog.Registry
}

// NewClassifier creates a classifier over the action registry.
func NewClassifier(reg *catalog.Registry) *Classifier {
	return &Classifier{catalog: reg}
}

// IsTrusted reports whether the named action may run without sandbox
// isolation. Local, bot-authored actions are never trusted regardless of
// naming; a catalog lookup failure classifies as untrusted.
func (c *Classifier) IsTrusted(ctx context.Context, botID, actionName string) bool {
	ns := actionName
	if idx := strings.Index(actionName, "/"); idx >= 0 {
		ns = actionName[:idx]
	}
	if _, ok := builtinNamespaces[ns]; !ok {
		return false
	}

	inGlobal, err := c.catalog.GlobalHasAction(ctx, botID, actionName)
	if err != nil {
		return false
	}
	return inGlobal
}
