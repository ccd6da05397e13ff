// Package locate finds which execution context hosts the chat subtree.
//
// The relevant context can be destroyed and recreated between poll cycles
// (window reload, panel move), so location is re-run every cycle with a
// one-slot cache in front of the full scan.
package locate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/hazyhaar/chatwatch/capture/internal/devtools"
)

// Locator caches the context id believed to host the chat root. The cache
// is cleared whenever validation against it fails and whenever the
// underlying session is replaced (Reset).
type Locator struct {
	selector string

	mu     sync.Mutex
	cached int64 // 0 = none
}

// New creates a Locator probing for the given chat-root selector.
func New(selector string) *Locator {
	return &Locator{selector: selector}
}

// Locate returns the context id hosting the chat root, or 0 if none of
// the live contexts has it. Per-context evaluation errors are expected
// (destroyed or cross-origin contexts throw) and simply skip that
// candidate.
func (l *Locator) Locate(ctx context.Context, ev devtools.Evaluator) int64 {
	l.mu.Lock()
	cached := l.cached
	l.mu.Unlock()

	if cached != 0 {
		if found, err := l.probe(ctx, ev, cached); err == nil && found {
			return cached
		}
		l.Reset()
	}

	for _, id := range ev.Contexts() {
		found, err := l.probe(ctx, ev, id)
		if err != nil || !found {
			continue
		}
		l.mu.Lock()
		l.cached = id
		l.mu.Unlock()
		return id
	}
	return 0
}

// Reset clears the cached context reference.
func (l *Locator) Reset() {
	l.mu.Lock()
	l.cached = 0
	l.mu.Unlock()
}

func (l *Locator) probe(ctx context.Context, ev devtools.Evaluator, contextID int64) (bool, error) {
	expr := fmt.Sprintf(
		"(function(){try{return {found: !!document.querySelector(%s)};}catch(e){return {found:false};}})()",
		strconv.Quote(l.selector))

	raw, err := ev.Eval(ctx, contextID, expr)
	if err != nil {
		return false, err
	}
	var res struct {
		Found bool `json:"found"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return false, err
	}
	return res.Found, nil
}
