// Package subject derives outbound subject lines from reply content.
package subject

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fallback is used when nothing usable survives stripping.
const Fallback = "Message from Moltbot"

const (
	maxLen      = 60
	truncateLen = 57
	minSentence = 10
)

var (
	markdownMarks = strings.NewReplacer(
		"**", "", "__", "",
		"*", "", "_", "",
		"`", "", "~~", "",
	)
	headerMark  = regexp.MustCompile(`^\s*#{1,6}\s+`)
	listMark    = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	bracketNote = regexp.MustCompile(`\[[^\]]*\]`)
	// Sentence terminators, ASCII and full-width.
	sentenceEnd = regexp.MustCompile(`[.!?。！？]`)
)

// Synthesize derives a human-meaningful subject from a reply body.
// The first sentence of the first non-empty line is preferred when its
// length lands between 10 and 60 characters; otherwise the whole line
// is used, truncated to 60 characters. A configured prefix is prepended
// last so it never counts against the length budget.
func Synthesize(replyBody, prefix string) string {
	subject := derive(replyBody)

	if utf8.RuneCountInString(subject) > maxLen {
		runes := []rune(subject)
		subject = string(runes[:truncateLen]) + "..."
	}

	if subject == "" {
		subject = Fallback
	}

	if prefix != "" {
		subject = prefix + " " + subject
	}
	return subject
}

func derive(body string) string {
	cleaned := bracketNote.ReplaceAllString(body, "")
	cleaned = markdownMarks.Replace(cleaned)

	var first string
	for _, line := range strings.Split(cleaned, "\n") {
		line = headerMark.ReplaceAllString(line, "")
		line = listMark.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line != "" {
			first = line
			break
		}
	}
	if first == "" {
		return ""
	}

	sentence := strings.TrimSpace(sentenceEnd.Split(first, 2)[0])
	if n := utf8.RuneCountInString(sentence); n > minSentence && n <= maxLen {
		return sentence
	}
	return first
}
