package extract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reHyphenBreak = regexp.MustCompile(`(\p{L})-\n(\p{L})`)
	reBlankRuns   = regexp.MustCompile(`\n{3,}`)
)

// CleanText joins words split across lines by hyphenation (common in Greek
// PDFs) and collapses runs of blank lines.
func CleanText(text string) string {
	text = reHyphenBreak.ReplaceAllString(text, "$1$2")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return text
}

// usable reports whether a native-text pass produced enough real content to
// skip OCR: some minimum of letter characters, not just whitespace and
// page-furniture glyphs.
func usable(text string) bool {
	letters := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if letters >= 40 {
				return true
			}
		}
	}
	return false
}

// heuristicQuality scores extracted text 0..1 from the ratio of letters to
// total characters and the presence of decision-document markers.
func heuristicQuality(text string, pages int) float32 {
	if text == "" {
		return 0
	}
	letters, total := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			letters++
		}
	}
	score := float32(0.2)
	if total > 0 {
		score += 0.5 * float32(letters) / float32(total)
	}
	if pages > 0 && len(text)/pages > 400 {
		score += 0.15 // enough content per page
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "απόφαση") || strings.Contains(lower, "αδα") {
		score += 0.15
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
