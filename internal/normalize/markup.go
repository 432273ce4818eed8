package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// Break durations in milliseconds, scaled by punctuation class. The ordering
// matters more than the absolute values: comma < semicolon/colon <
// sentence-end < exclamation/question < paragraph < scene-break.
const (
	breakComma       = 300
	breakSemicolon   = 450
	breakSentence    = 600
	breakEmphatic    = 750
	breakParagraph   = 1200
	breakSceneBreak  = 2200
	breakAttribution = 200
)

var (
	sceneMarkRe = regexp.MustCompile(`\n*` + sceneBreakMark + `\n*`)
	emphaticRe  = regexp.MustCompile(`([!?…])( )`)
	sentenceRe  = regexp.MustCompile(`(\.)( )`)
	semicolonRe = regexp.MustCompile(`([;:])( )`)
	commaRe     = regexp.MustCompile(`(,)( )`)
	softBreakRe = regexp.MustCompile(`([^\n])\n([^\n])`)
)

// Punctuation breaks are placed as markers before XML escaping, because the
// ";" ending an &amp;/&lt;/&gt; entity would otherwise read as punctuation.
// Like the pipeline markers these are control characters the first stage
// strips from manuscript text.
const (
	emphaticMark  = "\x11"
	sentenceMark  = "\x12"
	semicolonMark = "\x13"
	commaMark     = "\x14"
)

func breakTag(ms int) string {
	return fmt.Sprintf(`<break time="%dms"/>`, ms)
}

// compileMarkup is the final stage: it marks punctuation pauses, escapes
// the text for XML, applies whole-word pronunciation corrections, turns
// structural and pause markers into SSML breaks, and wraps everything in a
// rate-controlled prosody element. Paragraph boundaries keep their blank
// line so the chunker can still prefer them as cut points.
func (n *Normalizer) compileMarkup(t string) string {
	t = strings.TrimSpace(t)

	t = emphaticRe.ReplaceAllString(t, "$1"+emphaticMark+"$2")
	t = sentenceRe.ReplaceAllString(t, "$1"+sentenceMark+"$2")
	t = semicolonRe.ReplaceAllString(t, "$1"+semicolonMark+"$2")
	t = commaRe.ReplaceAllString(t, "$1"+commaMark+"$2")

	t = escapeXML(t)

	for _, entry := range n.lexicon {
		t = entry.word.ReplaceAllString(t, `<phoneme alphabet="ipa" ph="`+entry.ipa+`">$1</phoneme>`)
	}

	t = sceneMarkRe.ReplaceAllString(t, sceneBreakMark)
	t = strings.ReplaceAll(t, "\n\n", breakTag(breakParagraph)+"\n\n")
	t = strings.ReplaceAll(t, sceneBreakMark, breakTag(breakSceneBreak)+"\n\n")
	t = softBreakRe.ReplaceAllString(t, "$1 $2")

	t = strings.ReplaceAll(t, emphaticMark, breakTag(breakEmphatic))
	t = strings.ReplaceAll(t, sentenceMark, breakTag(breakSentence))
	t = strings.ReplaceAll(t, semicolonMark, breakTag(breakSemicolon))
	t = strings.ReplaceAll(t, commaMark, breakTag(breakComma))
	t = strings.ReplaceAll(t, shortPauseMark, breakTag(breakAttribution))

	return fmt.Sprintf(`<prosody rate="%d%%">`, n.ratePercent) + t + `</prosody>`
}

// escapeXML escapes the characters with meaning in SSML text nodes.
func escapeXML(t string) string {
	t = strings.ReplaceAll(t, "&", "&amp;")
	t = strings.ReplaceAll(t, "<", "&lt;")
	t = strings.ReplaceAll(t, ">", "&gt;")
	return t
}
