package relay

import (
	"strings"
	"testing"
)

func TestSanitizeStripsScript(t *testing.T) {
	r := NewRenderer()
	in := `<div class="msg"><script>alert(1)</script><p onclick="x()">hello</p></div>`

	got := r.SanitizeHTML(in)
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Errorf("sanitized output still executable: %q", got)
	}
	if !strings.Contains(got, "hello") {
		t.Errorf("sanitized output lost content: %q", got)
	}
	if !strings.Contains(got, `class="msg"`) {
		t.Errorf("sanitized output lost class attribute: %q", got)
	}
}

func TestSanitizeKeepsPresentation(t *testing.T) {
	r := NewRenderer()
	in := `<div style="color:#fff"><img src="data:image/png;base64,iVBORw0KGgo=" alt="chart"><pre>ls -la</pre></div>`

	got := r.SanitizeHTML(in)
	if !strings.Contains(got, "style=") {
		t.Errorf("inline style dropped: %q", got)
	}
	if !strings.Contains(got, "data:image/png") {
		t.Errorf("data-URI image dropped: %q", got)
	}
	if !strings.Contains(got, "<pre>") {
		t.Errorf("pre block dropped: %q", got)
	}
}

func TestMarkdownConversion(t *testing.T) {
	r := NewRenderer()
	in := `<h2>Plan</h2><p>Run the <strong>tests</strong> first.</p><pre><code>go on</code></pre>`

	md, err := r.Markdown(in)
	if err != nil {
		t.Fatalf("markdown: %v", err)
	}
	if !strings.Contains(md, "## Plan") {
		t.Errorf("heading not converted: %q", md)
	}
	if !strings.Contains(md, "**tests**") {
		t.Errorf("emphasis not converted: %q", md)
	}
}
