// internal/ble/protocol/chunk.go
package protocol

import "unicode/utf8"

// MaxPayloadBytes is the usable bytes per write with the default ATT MTU
// of 23 (3 bytes of ATT header).
const MaxPayloadBytes = 20

// EncodeLine terminates text with a newline and splits it into writes of
// at most maxBytes. Returns nil for empty text.
func EncodeLine(text string, maxBytes int) [][]byte {
	if text == "" {
		return nil
	}
	chunks := ChunkText(text+string(Terminator), maxBytes)
	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		out[i] = []byte(c)
	}
	return out
}

// ChunkText splits text into chunks that each fit within maxBytes.
// It prefers splitting at word boundaries (spaces) and never splits
// in the middle of a UTF-8 character. Returns nil for empty text.
func ChunkText(text string, maxBytes int) []string {
	if len(text) == 0 {
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = MaxPayloadBytes
	}
	if len(text) <= maxBytes {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxBytes {
			chunks = append(chunks, text)
			break
		}

		split := maxBytes
		for split > 0 && !utf8.RuneStart(text[split]) {
			split--
		}
		// A single rune wider than maxBytes still has to go out.
		if split == 0 {
			_, size := utf8.DecodeRuneInString(text)
			split = size
		}

		bestSpace := -1
		for i := split; i > 0; i-- {
			if text[i-1] == ' ' {
				bestSpace = i
				break
			}
		}

		if bestSpace > 0 {
			// Keep the space in the first chunk so reassembly is exact.
			chunks = append(chunks, text[:bestSpace])
			text = text[bestSpace:]
		} else {
			chunks = append(chunks, text[:split])
			text = text[split:]
		}
	}
	return chunks
}
