// Package format splits relayed text into chat-sized segments.
package format

import "unicode/utf8"

// ContinuationMarker is prefixed to every segment after the first one.
const ContinuationMarker = "*(...continued)*\n"

// Split splits text into segments of at most maxLen runes.
//
// Segments are packed greedily from whole lines. A line longer than maxLen is
// packed from whole words instead, and a word longer than maxLen is cut into
// maxLen-sized pieces. Separators stay attached to the piece they end, so the
// concatenation of the result is always equal to text. Splitting an already
// valid segment returns it unchanged.
func Split(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen < 1 {
		maxLen = 1
	}
	return splitLines([]rune(text), maxLen)
}

// SplitWithContinuation is Split with marker prefixed to every segment after
// the first. Segments that would overflow maxLen once prefixed are split again
// with the marker's length taken into account.
func SplitWithContinuation(text string, maxLen int, marker string) []string {
	segments := Split(text, maxLen)
	markerLen := utf8.RuneCountInString(marker)
	if len(segments) <= 1 || markerLen == 0 || markerLen >= maxLen {
		return segments
	}

	out := make([]string, 0, len(segments))
	out = append(out, segments[0])
	for _, seg := range segments[1:] {
		if markerLen+utf8.RuneCountInString(seg) <= maxLen {
			out = append(out, marker+seg)
			continue
		}
		for _, sub := range Split(seg, maxLen-markerLen) {
			out = append(out, marker+sub)
		}
	}
	return out
}

func splitLines(r []rune, maxLen int) []string {
	if len(r) <= maxLen {
		return []string{string(r)}
	}
	if lines := cut(r, '\n'); len(lines) > 1 {
		return pack(lines, maxLen, splitWords)
	}
	return splitWords(r, maxLen)
}

func splitWords(r []rune, maxLen int) []string {
	if len(r) <= maxLen {
		return []string{string(r)}
	}
	if words := cut(r, ' '); len(words) > 1 {
		return pack(words, maxLen, hardSplit)
	}
	return hardSplit(r, maxLen)
}

func hardSplit(r []rune, maxLen int) []string {
	out := make([]string, 0, len(r)/maxLen+1)
	for len(r) > maxLen {
		out = append(out, string(r[:maxLen]))
		r = r[maxLen:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

// cut splits r after every sep; sep stays at the end of its piece.
func cut(r []rune, sep rune) [][]rune {
	var pieces [][]rune
	start := 0
	for i, c := range r {
		if c == sep {
			pieces = append(pieces, r[start:i+1])
			start = i + 1
		}
	}
	if start < len(r) {
		pieces = append(pieces, r[start:])
	}
	return pieces
}

// pack fills segments greedily with pieces, handing oversized pieces to fallback.
func pack(pieces [][]rune, maxLen int, fallback func([]rune, int) []string) []string {
	var out []string
	var cur []rune
	for _, p := range pieces {
		if len(cur)+len(p) <= maxLen {
			cur = append(cur, p...)
			continue
		}
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = nil
		}
		if len(p) <= maxLen {
			cur = append(cur, p...)
			continue
		}
		out = append(out, fallback(p, maxLen)...)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}
