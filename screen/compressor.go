// Package screen turns tmux panes into a stream of self-contained frames:
// an adaptive capture loop per session, and opportunistic gzip compression
// of each emitted repaint.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"pkt.systems/pslog"

	"sessioncast.io/agent/schema"
)

// DefaultCompressionThreshold is the byte length above which frames are
// considered for compression.
const DefaultCompressionThreshold = 512

// Compressor gzip-compresses screen content when it pays off. A frame is
// emitted compressed only when the content exceeds the threshold and the
// gzip body is strictly smaller than the UTF-8 text; everything else
// degrades to a raw frame, including compression failures.
type Compressor struct {
	Threshold int
	Logger    pslog.Logger
}

// NewCompressor returns a Compressor with the default threshold.
func NewCompressor(logger pslog.Logger) *Compressor {
	return &Compressor{Threshold: DefaultCompressionThreshold, Logger: logger}
}

func (c *Compressor) threshold() int {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return DefaultCompressionThreshold
}

func (c *Compressor) log() pslog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return pslog.Ctx(context.Background())
}

// ShouldCompress reports whether content is large enough to try gzip.
// Content exactly at the threshold is not compressed.
func (c *Compressor) ShouldCompress(content string) bool {
	return len(content) > c.threshold()
}

// Compress gzips content.
func (c *Compressor) Compress(content string) ([]byte, error) {
	if content == "" {
		return nil, fmt.Errorf("empty content")
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(content)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty data")
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CompressFrame builds the frame for one captured repaint, compressed when
// that strictly shrinks it and raw otherwise.
func (c *Compressor) CompressFrame(session, content string) schema.Frame {
	frame := schema.Frame{
		Session:   session,
		RawText:   content,
		Timestamp: time.Now().UnixMilli(),
		Cols:      schema.DefaultCols,
		Rows:      schema.DefaultRows,
	}
	if !c.ShouldCompress(content) {
		return frame
	}
	compressed, err := c.Compress(content)
	if err != nil {
		c.log().Warn("frame compression failed", "session", session, "err", err)
		return frame
	}
	if len(compressed) >= len(content) {
		return frame
	}
	frame.Compressed = compressed
	frame.IsCompressed = true
	return frame
}
