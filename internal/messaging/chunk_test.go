package messaging

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkMessageShortBodyUnchanged(t *testing.T) {
	chunks := ChunkMessage("hello")
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("expected single unchanged chunk, got %v", chunks)
	}
}

func TestChunkMessageSplitsLongBody(t *testing.T) {
	body := strings.Repeat("word ", 2000) // ~10000 chars
	chunks := ChunkMessage(body)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if len(chunk) > MaxMessageLength {
			t.Errorf("chunk %d exceeds limit: %d", i, len(chunk))
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != body {
		t.Error("chunks do not reassemble to the original body")
	}
}

func TestChunkMessagePrefersNewlineBreak(t *testing.T) {
	line := strings.Repeat("a", 3000)
	body := line + "\n" + line

	chunks := ChunkMessage(body)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0], "\n") {
		t.Error("expected first chunk to break at the newline")
	}
}

func TestChunkMessageUnbreakableBody(t *testing.T) {
	body := strings.Repeat("a", MaxMessageLength+100)
	chunks := ChunkMessage(body)

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != MaxMessageLength {
		t.Errorf("expected hard cut at %d, got %d", MaxMessageLength, len(chunks[0]))
	}
}

func TestChunkMessageHardCutOnRuneBoundary(t *testing.T) {
	// A 3-byte rune with no break characters forces hard cuts that never
	// align with the byte limit; every chunk must still be valid UTF-8.
	body := strings.Repeat("⚡", MaxMessageLength/3+50)
	chunks := ChunkMessage(body)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		if len(chunk) > MaxMessageLength {
			t.Errorf("chunk %d exceeds limit: %d", i, len(chunk))
		}
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		rebuilt.WriteString(chunk)
	}
	if rebuilt.String() != body {
		t.Error("chunks do not reassemble to the original body")
	}
}
