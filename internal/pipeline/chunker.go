// Package pipeline turns raw document content into indexed vector points:
// chunking, embedding, upserting, and the state transitions around them.
package pipeline

import "strings"

// Chunk splits text into fixed-size sliding windows measured in runes.
// Consecutive windows share overlap runes. A window starts at every stride
// position before the end of the text, so the final window may be shorter
// than size, down to a pure-overlap tail. Window boundaries are a pure
// function of the input, which keeps the derived point IDs stable across
// re-processing.
func Chunk(text string, size, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 {
		return []string{text}
	}

	step := size - overlap
	if step < 1 {
		step = size
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
