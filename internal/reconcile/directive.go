package reconcile

import "strings"

const (
	directivePrefix = "_op="
	legacyPrefix    = "_ocr="

	verbOCR        = "ocr"
	verbBack       = "back"
	argPrefixOnly  = "prefix-only"
	directiveSplit = "/"
)

// Kind enumerates the curator commands carried in remote tags.
type Kind int

// Directive kinds.
const (
	KindUnknown Kind = iota
	// KindPrefixOnly shortens the label to its leading parts.
	KindPrefixOnly
	// KindFromSource re-derives the label from one recognition source.
	KindFromSource
	// KindAdoptRemote takes the remote metadata as authoritative.
	KindAdoptRemote
)

func (k Kind) String() string {
	switch k {
	case KindPrefixOnly:
		return "prefix-only"
	case KindFromSource:
		return "from-source"
	case KindAdoptRemote:
		return "adopt-remote"
	default:
		return "unknown"
	}
}

// Directive is one parsed _op= tag.
type Directive struct {
	Kind Kind
	// Source names the recognition source of a KindFromSource directive.
	Source string
	// Tag is the raw tag the directive was parsed from.
	Tag string
}

// IsOCR reports whether the directive rewrites the label from recognized text.
func (d Directive) IsOCR() bool {
	return d.Kind == KindPrefixOnly || d.Kind == KindFromSource
}

// ParseTag parses a _op=<verb>[/<arg>] tag. It reports false for tags that
// are not directives at all.
func ParseTag(tag string) (Directive, bool) {
	body, ok := strings.CutPrefix(tag, directivePrefix)
	if !ok {
		return Directive{}, false
	}
	d := Directive{Kind: KindUnknown, Tag: tag}
	verb, arg, _ := strings.Cut(body, directiveSplit)
	switch {
	case verb == verbOCR && arg == argPrefixOnly:
		d.Kind = KindPrefixOnly
	case verb == verbOCR && arg != "":
		d.Kind = KindFromSource
		d.Source = arg
	case verb == verbBack && arg == "":
		d.Kind = KindAdoptRemote
	}
	return d, true
}

// IsLegacyTag reports tags in the retired _ocr=<arg> encoding.
func IsLegacyTag(tag string) bool {
	return strings.HasPrefix(tag, legacyPrefix)
}

// SplitTags separates directives from the tags that stay on the item, both
// in their original order.
func SplitTags(tags []string) (directives []Directive, kept []string) {
	kept = make([]string, 0, len(tags))
	for _, tag := range tags {
		if d, ok := ParseTag(tag); ok {
			directives = append(directives, d)
			continue
		}
		kept = append(kept, tag)
	}
	return directives, kept
}
