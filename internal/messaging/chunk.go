package messaging

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the largest body a single WhatsApp text message may
// carry; longer replies are split across consecutive sends.
const MaxMessageLength = 4096

// ChunkMessage splits a message into pieces no longer than MaxMessageLength,
// preferring to break at the last newline (then space) inside the window so
// chunks stay readable. Hard cuts land on rune boundaries so no chunk ends
// mid-character.
func ChunkMessage(body string) []string {
	if len(body) <= MaxMessageLength {
		return []string{body}
	}
	var chunks []string
	rest := body
	for len(rest) > MaxMessageLength {
		cut := MaxMessageLength
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		if cut == 0 {
			cut = MaxMessageLength
		}
		window := rest[:cut]
		if i := strings.LastIndexByte(window, '\n'); i > 0 {
			cut = i + 1
		} else if i := strings.LastIndexByte(window, ' '); i > 0 {
			cut = i + 1
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		chunks = append(chunks, rest)
	}
	return chunks
}
