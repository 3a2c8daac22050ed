package telegram

import (
	"strings"
	"unicode/utf8"
)

// maxMessageLen is the Bot API limit for one text message.
const maxMessageLen = 4096

// chunkMessage splits text into pieces of at most maxLen bytes. A piece
// ends after the last newline in its second half when there is one, then
// after the last space, and never inside a UTF-8 sequence.
func chunkMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := splitPoint(text, maxLen)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}

// splitPoint expects len(text) > maxLen.
func splitPoint(text string, maxLen int) int {
	window := text[:maxLen]
	half := maxLen / 2
	if i := strings.LastIndexByte(window, '\n'); i > half {
		return i + 1
	}
	if i := strings.LastIndexByte(window, ' '); i > half {
		return i + 1
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return maxLen
	}
	return cut
}
