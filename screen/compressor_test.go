package screen

import (
	"strings"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	c := NewCompressor(nil)
	original := "hello \x1b[1mworld\x1b[0m åäö\n" + strings.Repeat("x", 100)
	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	restored, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if restored != original {
		t.Fatalf("round trip mismatch: got %q", restored)
	}
}

func TestShouldCompressThresholdIsStrict(t *testing.T) {
	c := &Compressor{Threshold: 512}
	exactly := strings.Repeat("a", 512)
	if c.ShouldCompress(exactly) {
		t.Fatalf("content at threshold must not compress")
	}
	if !c.ShouldCompress(exactly + "a") {
		t.Fatalf("content above threshold must compress")
	}
}

func TestCompressFrameSmallContentStaysRaw(t *testing.T) {
	c := &Compressor{Threshold: 512}
	frame := c.CompressFrame("s1", strings.Repeat("a", 400))
	if frame.IsCompressed {
		t.Fatalf("expected raw frame")
	}
	if frame.Compressed != nil {
		t.Fatalf("raw frame must carry no compressed bytes")
	}
	if frame.Cols != 80 || frame.Rows != 24 {
		t.Fatalf("expected default dimensions, got %dx%d", frame.Cols, frame.Rows)
	}
}

func TestCompressFrameLargeRepetitiveContentShrinks(t *testing.T) {
	c := &Compressor{Threshold: 512}
	content := strings.Repeat("A", 2000)
	frame := c.CompressFrame("s1", content)
	if !frame.IsCompressed {
		t.Fatalf("expected compressed frame")
	}
	if len(frame.Compressed) >= len(content) {
		t.Fatalf("compressed %d bytes, raw %d", len(frame.Compressed), len(content))
	}
	if frame.RawText != content {
		t.Fatalf("raw text must be preserved")
	}

	restored, err := c.Decompress(frame.Compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if restored != content {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressFrameIncompressibleStaysRaw(t *testing.T) {
	c := &Compressor{Threshold: 4}
	// Too short for gzip to win: header overhead alone exceeds the text.
	frame := c.CompressFrame("s1", "abcdefgh")
	if frame.IsCompressed {
		t.Fatalf("expected raw frame when compression does not shrink")
	}
}
