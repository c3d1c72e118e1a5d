package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitText breaks text into ordered parts of at most max runes. Parts end
// at whitespace (spaces, tabs or newlines) so words stay whole; a line break
// in the back half of the window wins over a later space. The whitespace
// run at each boundary is consumed, so re-inserting it between the parts
// restores the input, and for single-spaced prose strings.Join(parts, " ")
// does. A single word longer than max is hard-split, the only case where a
// word is broken.
func SplitText(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var parts []string
	r := []rune(text)
	for len(r) > max {
		at := breakPoint(r, max)
		if at < 0 {
			parts = append(parts, string(r[:max]))
			r = r[max:]
			continue
		}
		if head := strings.TrimRightFunc(string(r[:at]), unicode.IsSpace); head != "" {
			parts = append(parts, head)
		}
		r = []rune(strings.TrimLeftFunc(string(r[at:]), unicode.IsSpace))
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

// breakPoint returns the index of the whitespace rune to break at within
// r[:max+1], or -1 when the window holds none.
func breakPoint(r []rune, max int) int {
	lastSpace, lastLine := -1, -1
	for i := 0; i <= max && i < len(r); i++ {
		if unicode.IsSpace(r[i]) {
			lastSpace = i
			if r[i] == '\n' {
				lastLine = i
			}
		}
	}
	if lastLine >= 0 && lastLine >= max/2 {
		return lastLine
	}
	return lastSpace
}
