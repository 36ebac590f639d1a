package retrieval

// DefaultChunkSize is the chunk length in characters (Unicode code points).
const DefaultChunkSize = 1000

// Split cuts text into contiguous, non-overlapping pieces of size code
// points; only the last piece may be shorter. Concatenating the pieces
// yields text again. Empty text yields no pieces.
func Split(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	pieces := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
