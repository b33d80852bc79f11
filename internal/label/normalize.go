// Package label derives canonical short labels from noisy recognized text.
//
// Normalize is a pure text pipeline. The order of the steps matters: a media
// extension token anchors the interesting segment, field separators and
// symbols are dropped, and the leading token is always taken from the
// asset's own filename so every label sorts next to its source.
package label

import (
	"regexp"
	"strings"
)

const (
	locate = "#LOCATE#"
	split  = "#SPLIT#"
	// ws matches the whitespace recognizers emit, including ideographic spaces.
	ws = `[\s\v\p{Z}\x{FEFF}]`
	// cjk is the unified ideograph block.
	cjk = `\x{4E00}-\x{9FFF}`
)

var (
	commaRe      = regexp.MustCompile(`,`)
	dotsRe       = regexp.MustCompile(`\.+`)
	spacesRe     = regexp.MustCompile(ws + `+`)
	splitRunRe   = regexp.MustCompile(`(` + split + `)+`)
	fileFieldRe  = regexp.MustCompile(`-*` + ws + `*文` + ws + `*件`)
	locateTailRe = regexp.MustCompile(locate + `.*`)
	leadingRunRe = regexp.MustCompile(`^[A-Z0-9$¥£%&§]+`)
	cjkRe        = regexp.MustCompile(`[` + cjk + `]`)
	disallowedRe = regexp.MustCompile(`[^-_0-9A-Za-z` + cjk + `（）\s\v\p{Z}\x{FEFF}]+`)
	leadDashRe   = regexp.MustCompile(`^-+`)
	trailDashRe  = regexp.MustCompile(`-+$`)
	dashRunRe    = regexp.MustCompile(`-+`)
	digitsRe     = regexp.MustCompile(`[0-9]+`)
	alphaRe      = regexp.MustCompile(`[A-Za-z]+`)

	// trailingMisreadRe drops the tail of a video extension that survived
	// the anchor cut, such as "wm" or "vry".
	trailingMisreadRe = regexp.MustCompile(`([wWvV]in|[wWvV]ry|m[wW]|m[vV]|my|[wW]m|[wW][vV]|[wW][wW]|[wW]y)$`)
)

// mediaExtensions are the closed set of video extension spellings, with the
// common recognizer misreads of them, tried in order. Only the first match of
// each pattern becomes an anchor.
var mediaExtensions = []*regexp.Regexp{
	regexp.MustCompile(`[.]?(asf)`),
	regexp.MustCompile(`[.]?(avi)`),
	regexp.MustCompile(`[.]?(m[pP][dg4é]|` + ws + `m[pP])`),
	regexp.MustCompile(`[.]?([wW][imnrvVwWy]{3}[wW]|[wW][imrwW][mnwW][wWvVy]|[vVwW](?:i[mvVwWy]|m[mnvVwWy]|r[mnvVwW]))`),
}

// fieldSeparators mark "name:" style prefixes in recognized text.
var fieldSeparators = strings.NewReplacer("名", ":", "称", ":", "：", ":")

// Normalize turns raw recognized text into a label for the asset named
// filename. Empty text yields an empty label. For any other input the first
// dash-separated token of the result equals that of filename.
func Normalize(rawText, filename string) string {
	if rawText == "" {
		return ""
	}

	text := strings.TrimSpace(rawText)
	text = commaRe.ReplaceAllString(text, ".")
	text = dotsRe.ReplaceAllString(text, ".")
	text = spacesRe.ReplaceAllString(text, " ")

	for _, re := range mediaExtensions {
		text = replaceFirst(re, text, locate)
	}

	for _, sep := range []string{" - ", " -", "- "} {
		text = strings.Replace(text, sep, split, 1)
	}
	text = splitRunRe.ReplaceAllString(text, split)
	text = pickSegment(strings.Split(text, split))

	text = fileFieldRe.Split(text, 2)[0]
	text = locateTailRe.ReplaceAllString(text, "")
	text = trailingMisreadRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	text = fieldSeparators.Replace(text)
	text = replaceFirst(leadingRunRe, text, ":")
	text = strings.ReplaceAll(text, ":", "")
	text = strings.TrimSpace(text)

	if loc := cjkRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + "-" + text[loc[0]:]
	}

	text = disallowedRe.ReplaceAllString(text, "")
	text = leadDashRe.ReplaceAllString(text, "")
	text = trailDashRe.ReplaceAllString(text, "")
	text = dashRunRe.ReplaceAllString(text, "-")
	text = spacesRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return canonicalize(text, filename)
}

// pickSegment prefers the segment holding the extension anchor.
func pickSegment(segments []string) string {
	for _, s := range segments {
		if strings.Contains(s, locate) {
			return s
		}
	}
	return segments[0]
}

// canonicalize forces the filename's leading token onto text and appends the
// first digit run of filename when nothing else was extracted.
func canonicalize(text, filename string) string {
	lead := leadingToken(filename)
	tokens := strings.Split(text, "-")
	if tokens[0] != lead {
		tokens[0] = lead
		if len(tokens) > 1 && strings.EqualFold(tokens[1], tokens[0]) {
			tokens = append(tokens[:1], tokens[2:]...)
		}
		text = strings.Join(tokens, "-")
	}
	if text == lead {
		if digits := digitsRe.FindString(filename); digits != "" {
			text = lead + "-" + digits
		}
	}
	return text
}

func leadingToken(s string) string {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}

func replaceFirst(re *regexp.Regexp, s, repl string) string {
	loc := re.FindStringIndex(s)
	if loc == nil {
		return s
	}
	return s[:loc[0]] + repl + s[loc[1]:]
}

// PrefixOnly shortens an existing label to its first one or two
// dash-separated parts. A label without a dash falls back to the first
// alphabetic run and the last digit run of filename.
func PrefixOnly(label, filename string) string {
	head := label
	if i := strings.IndexByte(head, ' '); i >= 0 {
		head = head[:i]
	}
	parts := strings.Split(head, "-")
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	alpha := alphaRe.FindStringIndex(filename)
	if alpha != nil {
		runs := digitsRe.FindAllStringIndex(filename[alpha[1]:], -1)
		if len(runs) > 0 {
			last := runs[len(runs)-1]
			return filename[alpha[0]:alpha[1]] + "-" + filename[alpha[1]+last[0]:alpha[1]+last[1]]
		}
	}
	return parts[0]
}
