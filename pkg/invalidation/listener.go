// Package invalidation subscribes to the cache bus and turns bursts of
// content-change events into single cache clears.
package invalidation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/convoserve/actionkernel/pkg/cachebus"
	"github.com/convoserve/actionkernel/pkg/catalog"
)

// DefaultWindow is the suppression window for burst collapsing. Storage
// writes for a bot's actions arrive in bursts during multi-file sync;
// clearing once at burst-start is enough, since any read after the clear is
// already fresh.
const DefaultWindow = 2 * time.Second

// actionsKeyMarker selects invalidation keys this listener reacts to.
const actionsKeyMarker = "/actions"

// allScopes is the limiter key for events with no recognizable bot id.
const allScopes = "*"

// Listener clears catalog scopes on invalidation events, debounced on the
// leading edge: the first event of a burst clears immediately, every further
// event inside the window is dropped outright, and nothing fires when the
// window elapses.
type Listener struct {
	reg    *catalog.Registry
	window time.Duration
	log    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewListener creates a listener over the action registry. A non-positive
// window falls back to DefaultWindow.
func NewListener(reg *catalog.Registry, window time.Duration, log *slog.Logger) *Listener {
	if window <= 0 {
		window = DefaultWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		reg:      reg,
		window:   window,
		log:      log.With("component", "invalidation"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start subscribes to the bus and returns the subscription's stop function.
func (l *Listener) Start(ctx context.Context, bus cachebus.Bus) (func(), error) {
	return bus.Subscribe(ctx, l.Handle)
}

// Handle processes one invalidation key. Duplicate delivery is tolerated;
// the suppression window absorbs it.
func (l *Listener) Handle(key string) {
	if !strings.Contains(strings.ToLower(key), actionsKeyMarker) {
		return
	}

	botID := botIDFromKey(key)
	scopeKey := botID
	if scopeKey == "" {
		scopeKey = allScopes
	}

	if !l.limiter(scopeKey).Allow() {
		return
	}

	if botID == "" {
		l.reg.InvalidateAll()
	} else {
		l.reg.InvalidateBot(botID)
	}
	l.log.Debug("invalidated action caches", "key", key, "bot", botID)
}

// limiter returns the per-scope suppression limiter. A burst of one token
// refilled once per window gives leading-edge-only firing: Allow consumes the
// token on the first event and rejects the rest until the window has passed.
func (l *Listener) limiter(scopeKey string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[scopeKey]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window), 1)
		l.limiters[scopeKey] = lim
	}
	return lim
}

// botIDFromKey extracts the bot id from keys shaped like
// ".../bots/<botID>/actions/...". Keys touching the global actions tree have
// no bot segment and clear every scope.
func botIDFromKey(key string) string {
	lower := strings.ToLower(key)
	idx := strings.Index(lower, "/bots/")
	if idx < 0 {
		return ""
	}
	rest := key[idx+len("/bots/"):]
	if end := strings.Index(rest, "/"); end >= 0 {
		return rest[:end]
	}
	return rest
}
