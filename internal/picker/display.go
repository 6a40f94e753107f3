package picker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// ansiRE matches CSI and OSC escape sequences.
var ansiRE = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[A-Za-z]|\][^\x07\x1b]*(?:\x07|\x1b\\))`)

// displayText makes record text safe for one terminal row of width
// columns: escapes are removed, invalid UTF-8 replaced, line breaks folded
// and the middle elided when too wide.
func displayText(s string, width int) string {
	s = ansiRE.ReplaceAllString(s, "")
	s = strings.ToValidUTF8(s, "�")
	s = strings.Join(strings.Fields(s), " ")
	return middleTruncate(s, width)
}

// middleTruncate elides the middle of s with an ellipsis so that it spans
// at most width columns. Wide runes count double.
func middleTruncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	total := runewidth.StringWidth(s)
	if total <= width {
		return s
	}
	if width < 3 {
		return runewidth.Truncate(s, width, "")
	}
	keep := width - 1
	head := runewidth.Truncate(s, (keep+1)/2, "")
	tail := runewidth.TruncateLeft(s, total-keep/2, "")
	for runewidth.StringWidth(tail) > keep/2 {
		_, size := utf8.DecodeRuneInString(tail)
		tail = tail[size:]
	}
	return head + "…" + tail
}
