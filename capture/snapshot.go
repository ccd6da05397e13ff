package capture

// Snapshot is a self-contained rendition of the chat panel at one poll
// cycle: serialized markup, the page CSS needed to render it standalone,
// and the resolved theme colors. Snapshots are immutable values; the
// streamer keeps no history beyond the fingerprint of the last emission.
type Snapshot struct {
	ID              string `json:"id"` // UUIDv7
	HTML            string `json:"html"`
	CSS             string `json:"css"`
	BackgroundColor string `json:"background_color"`
	TextColor       string `json:"text_color"`
	EndpointTitle   string `json:"endpoint_title,omitempty"`
	CapturedAt      int64  `json:"captured_at"` // epoch milliseconds
}
