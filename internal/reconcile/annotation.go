package reconcile

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

var (
	anchorOpenRe  = regexp.MustCompile(`<a\s+?[\s\S]*?>`)
	anchorCloseRe = regexp.MustCompile(`</a>`)
	newlineRe     = regexp.MustCompile(`\r?\n`)
	spaceRunRe    = regexp.MustCompile(`\s+`)
)

// errUnrepairable marks an annotation that is not JSON even after repair.
var errUnrepairable = errors.New("annotation is not valid JSON")

type remoteAnnotation struct {
	Description *string `json:"description"`
}

// parseAnnotation decodes the remote annotation. Curators sometimes paste
// links into it, leaving HTML anchors and raw newlines inside JSON strings;
// those are stripped and the repaired text is returned with repaired set.
// An empty annotation decodes to an empty value.
func parseAnnotation(raw string) (ann remoteAnnotation, fixed string, repaired bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return remoteAnnotation{}, raw, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &ann); err == nil {
		return ann, raw, false, nil
	}
	fixed = anchorOpenRe.ReplaceAllString(raw, "")
	fixed = anchorCloseRe.ReplaceAllString(fixed, "")
	fixed = newlineRe.ReplaceAllString(fixed, " ")
	fixed = spaceRunRe.ReplaceAllString(fixed, " ")
	ann = remoteAnnotation{}
	if err := json.Unmarshal([]byte(fixed), &ann); err != nil {
		return remoteAnnotation{}, raw, false, errUnrepairable
	}
	return ann, fixed, true, nil
}

// withDescription replaces the description of a JSON annotation and keeps
// every other field in place. It reports false when raw is not a JSON object
// or already carries description.
func withDescription(raw, description string) (string, bool) {
	var doc catalog.Ordered[json.RawMessage]
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", false
	}
	if current, ok := doc.Get("description"); ok {
		var existing string
		if json.Unmarshal(current, &existing) == nil && existing == description {
			return "", false
		}
	}
	encoded, err := json.Marshal(description)
	if err != nil {
		return "", false
	}
	doc.Set("description", encoded)
	out, err := json.Marshal(doc)
	if err != nil {
		return "", false
	}
	return string(out), true
}
