package relay

import (
	"fmt"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Renderer prepares captured fragments for delivery: sanitized HTML for
// the viewer, markdown for text consumers. Captured fragments come from
// a DOM the bridge does not control, so everything is scrubbed before it
// leaves the process.
type Renderer struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

// NewRenderer builds a Renderer whose policy keeps the presentation
// attributes the capture script relies on (class, inline style, data-URI
// images for rasterized canvases) and strips everything executable.
func NewRenderer() *Renderer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "style").Globally()
	p.AllowElements("span", "div", "section", "article", "figure", "figcaption")
	p.AllowDataURIImages()

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)

	return &Renderer{policy: p, conv: conv}
}

// SanitizeHTML scrubs a captured fragment for re-serving.
func (r *Renderer) SanitizeHTML(html string) string {
	return r.policy.Sanitize(html)
}

// Markdown converts a captured fragment to markdown. The fragment is
// sanitized first so script and event-handler noise never reaches the
// converter.
func (r *Renderer) Markdown(html string) (string, error) {
	md, err := r.conv.ConvertString(r.policy.Sanitize(html))
	if err != nil {
		return "", fmt.Errorf("relay: markdown: %w", err)
	}
	return md, nil
}
