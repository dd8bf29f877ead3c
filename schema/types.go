// Package schema defines the shared wire and domain types for the
// SessionCast agent: tmux session descriptions, captured screen frames,
// relay messages and the event variants fanned out on the bus.
package schema

import "encoding/base64"

// DefaultCols is the terminal width reported when tmux does not say.
const DefaultCols = 80

// DefaultRows is the terminal height reported when tmux does not say.
const DefaultRows = 24

// Session describes one tmux session as reported by `tmux ls`.
type Session struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Attached bool   `json:"attached"`
}

// Frame is one captured screen snapshot. RawText always starts with the
// clear-and-home prefix so every frame is a complete repaint. Compressed
// is set iff IsCompressed, and is then strictly smaller than the UTF-8
// encoding of RawText.
type Frame struct {
	Session      string
	RawText      string
	Compressed   []byte
	IsCompressed bool
	Timestamp    int64
	Cols         int
	Rows         int
}

// Payload returns the bytes that go on the wire: the gzip body when the
// frame is compressed, the UTF-8 text otherwise.
func (f Frame) Payload() []byte {
	if f.IsCompressed {
		return f.Compressed
	}
	return []byte(f.RawText)
}

// Base64Payload returns Payload encoded for the screen/screenGz messages.
func (f Frame) Base64Payload() string {
	return base64.StdEncoding.EncodeToString(f.Payload())
}
