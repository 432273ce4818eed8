// Package normalize turns raw manuscript chapter text into provider-safe
// speakable SSML. The pipeline is a fixed sequence of stages; each stage
// assumes the invariants established by the previous ones, so the order
// must not be changed.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Internal pause markers survive between stages until markup compilation.
// They are control characters stripped in the first stage, so manuscript
// text can never collide with them.
const (
	sceneBreakMark = "\x1d"
	shortPauseMark = "\x1f"
)

// DefaultRate is the prosody rate used when a project has no speech-rate setting.
const DefaultRate = 100

type Normalizer struct {
	ratePercent int
	lexicon     []lexiconEntry
}

// lexiconEntry maps a whole word to an explicit IPA respelling. Corrections
// always cover the entire word: wrapping only a consonant cluster in a
// phoneme tag makes some engines spell the word out letter by letter.
type lexiconEntry struct {
	word *regexp.Regexp
	ipa  string
}

// New creates a Normalizer producing prosody-wrapped SSML at the given
// speech rate (percent, 100 = normal).
func New(ratePercent int) *Normalizer {
	if ratePercent <= 0 {
		ratePercent = DefaultRate
	}
	n := &Normalizer{ratePercent: ratePercent}
	for word, ipa := range pronunciationLexicon {
		n.lexicon = append(n.lexicon, lexiconEntry{
			word: regexp.MustCompile(`(?i)\b(` + regexp.QuoteMeta(word) + `)\b`),
			ipa:  ipa,
		})
	}
	return n
}

// pronunciationLexicon lists words the engines consistently mispronounce.
var pronunciationLexicon = map[string]string{
	"kindle": "ˈkindel",
	"ebook":  "ˈibuk",
	"wifi":   "ˈwifi",
}

// Normalize runs the full pipeline over raw chapter text. It is a pure
// function over text and never fails; malformed input degrades gracefully.
func (n *Normalizer) Normalize(text string) string {
	t := stripInvisible(text)
	t = collapseNewlines(t)
	t = markSceneBreaks(t)
	t = stripUnspeakable(t)
	t = normalizePunctuation(t)
	t = expandAbbreviations(t)
	t = expandNumbers(t)
	t = markDialogueAttribution(t)
	return n.compileMarkup(t)
}

var (
	invisibleRe  = regexp.MustCompile("[\u200B\u200C\u200D\u2060\uFEFF\u00AD]")
	controlRe    = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]")
	spaceRunRe   = regexp.MustCompile("[ \t]{2,}")
	lineEdgeRe   = regexp.MustCompile(`(?m)[ \t]+$|^[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)

	// A line made of three or more repeated separator glyphs is a scene break.
	sceneBreakRe = regexp.MustCompile(`(?m)^[ \t]*(?:[*\-=_~#•·] *){3,}[ \t]*$`)

	urlRe     = regexp.MustCompile(`(?:https?://|www\.)\S+`)
	emailRe   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	hashtagRe = regexp.MustCompile(`#\p{L}[\p{L}\d_]*`)
	boldRe    = regexp.MustCompile(`\*{1,3}([^*\n]+?)\*{1,3}`)
	italicRe  = regexp.MustCompile(`_{1,3}([^_\n]+?)_{1,3}`)

	dashRunRe     = regexp.MustCompile(`[–‒-]{2,}`)
	ellipsisRe    = regexp.MustCompile(`\.{3,}`)
	repeatPunctRe = regexp.MustCompile(`[!?¡¿]{2,}`)
	sentenceGapRe = regexp.MustCompile(`([.!?…])(\p{L})`)

	chapterOrdinalRe = regexp.MustCompile(`(?i)\b(capítulo|parte|libro|tomo|volumen|sección|escena|acto)\s+([IVXLCDM]{1,8})\b`)
	titleAbbrRe      = regexp.MustCompile(`\b(Srta|Sra|Sr|Dra|Dr|Prof|Gral|Avda|Av|Ud|Vd|núm|pág|etc)\.`)

	// Unit abbreviations only expand when genuinely standalone: a digit must
	// precede them, so a trailing period on a short word ("Liam.") is never
	// misread as a unit.
	unitAbbrRe = regexp.MustCompile(`\b(\d+) ?(mm|cm|km|kg|ml|min|seg|m|g|l|h|s)\.([ \t,;:]|\n|$)`)

	integerRe = regexp.MustCompile(`\b\d+\b`)

	// End-of-word is spelled out instead of \b: Go's \b is ASCII-only and
	// never fires after an accented final vowel (susurró, gritó, preguntó).
	quoteAttributionRe = regexp.MustCompile(`([»”])(,? ?—? ?)(` + attributionVerbs + `)([^\p{L}]|$)`)
	dashAttributionRe  = regexp.MustCompile(`(—)( ?)(` + attributionVerbs + `)([^\p{L}]|$)`)
)

// attributionVerbs are reported-speech verbs that commonly follow a closing
// quotation mark in attributed dialogue.
const attributionVerbs = `dijo|preguntó|respondió|contestó|exclamó|susurró|murmuró|gritó|añadió|replicó|repuso|insistió|continuó|pensó|observó`

var titleExpansions = map[string]string{
	"Sr":   "señor",
	"Sra":  "señora",
	"Srta": "señorita",
	"Dr":   "doctor",
	"Dra":  "doctora",
	"Prof": "profesor",
	"Gral": "general",
	"Av":   "avenida",
	"Avda": "avenida",
	"Ud":   "usted",
	"Vd":   "usted",
	"núm":  "número",
	"pág":  "página",
	"etc":  "etcétera",
}

var unitExpansions = map[string]string{
	"mm":  "milímetros",
	"cm":  "centímetros",
	"km":  "kilómetros",
	"kg":  "kilogramos",
	"ml":  "mililitros",
	"min": "minutos",
	"seg": "segundos",
	"m":   "metros",
	"g":   "gramos",
	"l":   "litros",
	"h":   "horas",
	"s":   "segundos",
}

var unitSingular = map[string]string{
	"mm":  "milímetro",
	"cm":  "centímetro",
	"km":  "kilómetro",
	"kg":  "kilogramo",
	"ml":  "mililitro",
	"min": "minuto",
	"seg": "segundo",
	"m":   "metro",
	"g":   "gramo",
	"l":   "litro",
	"h":   "hora",
	"s":   "segundo",
}

// stripInvisible removes zero-width and control characters left over from
// copy-paste and normalizes whitespace, which otherwise stall some engines.
func stripInvisible(t string) string {
	t = strings.ReplaceAll(t, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = invisibleRe.ReplaceAllString(t, "")
	t = controlRe.ReplaceAllString(t, "")
	t = strings.ReplaceAll(t, " ", " ")
	t = spaceRunRe.ReplaceAllString(t, " ")
	t = lineEdgeRe.ReplaceAllString(t, "")
	return t
}

// collapseNewlines reduces runs of three or more newlines to exactly two,
// the canonical paragraph boundary. Single newlines stay as soft breaks.
func collapseNewlines(t string) string {
	return newlineRunRe.ReplaceAllString(t, "\n\n")
}

func markSceneBreaks(t string) string {
	return sceneBreakRe.ReplaceAllString(t, sceneBreakMark)
}

// normalizePunctuation rewrites quotation and dash characters into forms a
// speech engine will not vocalize as unit symbols (plain apostrophes and
// double quotes are read as "minutes"/"seconds" by some providers),
// normalizes ellipses, collapses repeated punctuation and guarantees one
// space after sentence punctuation.
func normalizePunctuation(t string) string {
	t = strings.ReplaceAll(t, "'", "’")
	t = replaceStraightQuotes(t)
	t = dashRunRe.ReplaceAllString(t, "—")
	t = strings.ReplaceAll(t, "–", "—")
	t = strings.ReplaceAll(t, "‒", "—")
	t = ellipsisRe.ReplaceAllString(t, "…")
	t = repeatPunctRe.ReplaceAllStringFunc(t, collapsePunctRun)
	t = sentenceGapRe.ReplaceAllString(t, "$1 $2")
	return t
}

// collapsePunctRun reduces consecutive repeats inside a punctuation run to
// one of each, so "¡¡¡No!!!" keeps its bracketing marks and loses the echo.
func collapsePunctRun(run string) string {
	var b strings.Builder
	prev := rune(-1)
	for _, r := range run {
		if r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

// replaceStraightQuotes turns plain double quotes into curly ones: opening
// after whitespace or start of line, closing otherwise.
func replaceStraightQuotes(t string) string {
	var b strings.Builder
	b.Grow(len(t))
	prev := '\n'
	for _, r := range t {
		if r == '"' {
			if prev == '\n' || prev == ' ' || prev == '\t' || prev == '(' || prev == '—' {
				b.WriteRune('“')
			} else {
				b.WriteRune('”')
			}
			prev = r
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// stripUnspeakable drops emphasis markers, URLs, emails and hashtags. It
// must run before punctuation normalization: the sentence-gap pass inserts
// a space after every dot, which would split an address into fragments the
// patterns here no longer match.
func stripUnspeakable(t string) string {
	t = boldRe.ReplaceAllString(t, "$1")
	t = italicRe.ReplaceAllString(t, "$1")
	t = urlRe.ReplaceAllString(t, "")
	t = emailRe.ReplaceAllString(t, "")
	t = hashtagRe.ReplaceAllString(t, "")
	return t
}

// expandAbbreviations expands Roman numerals used as chapter ordinals and a
// curated abbreviation table. Missing expansions degrade gracefully: an
// unknown form is simply left in place.
func expandAbbreviations(t string) string {
	t = chapterOrdinalRe.ReplaceAllStringFunc(t, func(match string) string {
		parts := chapterOrdinalRe.FindStringSubmatch(match)
		value := romanToInt(strings.ToUpper(parts[2]))
		if value == 0 {
			return match
		}
		return parts[1] + " " + strconv.Itoa(value)
	})
	t = titleAbbrRe.ReplaceAllStringFunc(t, func(match string) string {
		abbr := strings.TrimSuffix(match, ".")
		if full, ok := titleExpansions[abbr]; ok {
			return full
		}
		return match
	})
	t = unitAbbrRe.ReplaceAllStringFunc(t, func(match string) string {
		parts := unitAbbrRe.FindStringSubmatch(match)
		unit := unitExpansions[parts[2]]
		if parts[1] == "1" {
			unit = unitSingular[parts[2]]
		}
		if unit == "" {
			return match
		}
		return parts[1] + " " + unit + parts[3]
	})
	return t
}

// expandNumbers converts bare integers of up to four digits (including
// four-digit years) into Spanish words. Larger numbers stay as digits.
func expandNumbers(t string) string {
	return integerRe.ReplaceAllStringFunc(t, func(s string) string {
		if len(s) > 4 {
			return s
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return s
		}
		return NumberToWords(v)
	})
}

// markDialogueAttribution inserts a short pause before reported-speech verbs
// that follow a closing quotation mark or a dialogue dash, so attributed
// dialogue reads naturally.
func markDialogueAttribution(t string) string {
	t = dashAttributionRe.ReplaceAllString(t, "$1"+shortPauseMark+"$2$3$4")
	t = quoteAttributionRe.ReplaceAllString(t, "$1"+shortPauseMark+"$2$3$4")
	return t
}
