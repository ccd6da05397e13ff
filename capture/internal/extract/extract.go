// Package extract produces a self-contained rendition of the chat subtree
// by running one DOM-transformation expression inside the located context.
//
// The payload (extract.js) clones the chat root, substitutes terminal and
// chart canvases with text/image equivalents, strips the input chrome and
// inlines the page styling, so the fragment renders faithfully without
// sharing any stylesheet with the source IDE.
package extract

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/chatwatch/capture/internal/devtools"
)

//go:embed extract.js
var extractJS string

// WrapID is the element id the captured CSS is rescoped onto. Consumers
// wrap the fragment in an element with this id to pick up the styling.
const WrapID = "chatwatch-root"

// Result is the raw outcome of one extraction pass.
type Result struct {
	HTML            string
	CSS             string
	BackgroundColor string
	TextColor       string
}

type payload struct {
	OK   bool   `json:"ok"`
	HTML string `json:"html"`
	CSS  string `json:"css"`
	BG   string `json:"bg"`
	FG   string `json:"fg"`
}

// Expression builds the evaluate expression for the given chat-root
// selector. Exposed for tests that inspect the assembled script.
func Expression(rootSelector string) string {
	return fmt.Sprintf("(%s)(%s, %s)",
		strings.TrimSpace(extractJS),
		strconv.Quote(rootSelector),
		strconv.Quote(WrapID))
}

// Run executes the transformation inside contextID. A missing chat root,
// a thrown exception or an unparseable result all come back as (nil, nil):
// extraction failure means "no snapshot this cycle", never an error the
// poller should surface.
func Run(ctx context.Context, ev devtools.Evaluator, contextID int64, rootSelector string) (*Result, error) {
	raw, err := ev.Eval(ctx, contextID, Expression(rootSelector))
	if err != nil {
		return nil, err
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	if !p.OK || p.HTML == "" {
		return nil, nil
	}
	return &Result{
		HTML:            p.HTML,
		CSS:             p.CSS,
		BackgroundColor: p.BG,
		TextColor:       p.FG,
	}, nil
}
