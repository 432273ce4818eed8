// Package chunk splits compiled speech markup into provider-sized pieces.
// Cuts prefer natural boundaries so the synthesized audio joins cleanly, and
// every emitted chunk is self-contained: structural tags left open by a cut
// are closed at the end of the chunk and reopened at the start of the next.
package chunk

import (
	"fmt"
	"strings"
)

// openTag is a structural markup tag currently open at the scan position.
// The raw form is kept so a reopened tag carries its original attributes.
type openTag struct {
	name string
	raw  string
}

// Split divides markup into ordered chunks of at most limit characters.
// Text that already fits is returned as a single chunk, byte for byte.
// Otherwise each cut is placed at the best boundary available within half
// the limit's distance back from the cut point, preferring a paragraph
// break, then a sentence end, then plain whitespace, with a hard cut as
// the last resort. A cut never lands inside a tag. Stripping all tags from
// the concatenated chunks yields exactly the tag-stripped input.
func Split(markup string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("chunk: limit must be positive, got %d", limit)
	}
	runes := []rune(markup)
	if len(runes) <= limit {
		return []string{markup}, nil
	}

	lookback := limit / 2
	var chunks []string
	var open []openTag
	pos := 0

	for pos < len(runes) {
		rest := runes[pos:]
		prefix := reopenAll(open)
		prefixLen := len([]rune(prefix))
		if prefixLen >= limit {
			return nil, fmt.Errorf("chunk: limit %d leaves no room after reopened tags", limit)
		}

		if prefixLen+len(rest) <= limit {
			chunks = append(chunks, prefix+string(rest))
			break
		}

		end := limit - prefixLen
		var cut int
		var openAtCut []openTag
		for {
			cut = cutPoint(rest, end, lookback)
			if cut <= 0 {
				return nil, fmt.Errorf("chunk: cannot place a cut within limit %d", limit)
			}
			openAtCut = scanTags(open, rest[:cut])
			closing := closeAll(openAtCut)
			total := prefixLen + cut + len([]rune(closing))
			if total <= limit {
				chunks = append(chunks, prefix+string(rest[:cut])+closing)
				break
			}
			end = cut - (total - limit)
			if end <= 0 {
				return nil, fmt.Errorf("chunk: cannot place a cut within limit %d", limit)
			}
		}
		open = openAtCut
		pos += cut
	}

	return chunks, nil
}

// cutPoint picks the cut index in rest, at most end runes in. It scans
// forward once, remembering the latest boundary of each class outside any
// tag, then takes the strongest boundary inside the lookback window. If end
// lands inside a tag the cut retreats to the tag's opening bracket.
func cutPoint(rest []rune, end, lookback int) int {
	if end > len(rest) {
		end = len(rest)
	}

	parCut, sentCut, wsCut := -1, -1, -1
	inTag := false
	tagStart := 0
	for i := 0; i < end; i++ {
		c := rest[i]
		if inTag {
			if c == '>' {
				inTag = false
			}
			continue
		}
		if c == '<' {
			inTag = true
			tagStart = i
			continue
		}
		switch {
		case c == '\n' && i+2 <= end && rest[i+1] == '\n':
			parCut = i + 2
		case isSentenceEnd(c) && i+1 < len(rest) && isSentenceGap(rest[i+1]):
			sentCut = i + 1
		case c == ' ' || c == '\n':
			wsCut = i + 1
		}
	}
	if inTag {
		end = tagStart
	}

	low := end - lookback
	if low < 1 {
		low = 1
	}
	switch {
	case parCut >= low && parCut <= end:
		return parCut
	case sentCut >= low && sentCut <= end:
		return sentCut
	case wsCut >= low && wsCut <= end:
		return wsCut
	}
	return end
}

func isSentenceEnd(c rune) bool {
	return c == '.' || c == '!' || c == '?' || c == '…'
}

func isSentenceGap(c rune) bool {
	return c == ' ' || c == '\n' || c == '<'
}

// scanTags advances the open-tag stack over text. Self-closing tags are
// transparent; a close tag pops the top of the stack regardless of name so
// malformed markup degrades instead of wedging the stack.
func scanTags(stack []openTag, text []rune) []openTag {
	open := make([]openTag, len(stack))
	copy(open, stack)

	for i := 0; i < len(text); i++ {
		if text[i] != '<' {
			continue
		}
		j := i
		for j < len(text) && text[j] != '>' {
			j++
		}
		if j == len(text) {
			break
		}
		raw := string(text[i : j+1])
		switch {
		case strings.HasPrefix(raw, "</"):
			if len(open) > 0 {
				open = open[:len(open)-1]
			}
		case strings.HasSuffix(raw, "/>"):
			// self-closing, nothing to track
		default:
			open = append(open, openTag{name: tagName(raw), raw: raw})
		}
		i = j
	}
	return open
}

func tagName(raw string) string {
	name := strings.TrimPrefix(raw, "<")
	if i := strings.IndexAny(name, " >"); i >= 0 {
		name = name[:i]
	}
	return name
}

func reopenAll(open []openTag) string {
	var b strings.Builder
	for _, t := range open {
		b.WriteString(t.raw)
	}
	return b.String()
}

func closeAll(open []openTag) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	return b.String()
}
