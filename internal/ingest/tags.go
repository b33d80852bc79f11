package ingest

import (
	"encoding/json"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/catalog"
)

// Tags builds the tag set of a new remote item: the provenance tags, then one
// _tag per leading title segment (at most two) and one _union_tag per segment
// plus the alias of the second segment. Alias keys match case-insensitively.
func Tags(site string, provenance []string, aliases map[string]string, title string) []string {
	tags := append([]string{}, provenance...)
	segments := strings.Split(title, "-")
	second := ""
	if len(segments) > 1 {
		second = segments[1]
	}
	alias, ok := aliases[second]
	if !ok {
		alias = aliases[strings.ToLower(second)]
	}
	segments = append(segments, alias)
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if i < 2 {
			tags = append(tags, "_tag="+site+"/"+segment)
		}
		tags = append(tags, "_union_tag="+segment)
	}
	return tags
}

// Annotation is the JSON stored in the remote item's annotation field.
type Annotation struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    AnnotationCategory `json:"category"`
}

// AnnotationCategory references the owning category.
type AnnotationCategory struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// BuildAnnotation renders the annotation of item in cat.
func BuildAnnotation(cat *catalog.Category, item *catalog.Item) (string, error) {
	data, err := json.Marshal(Annotation{
		Title:       item.SourceFilename,
		Description: item.LabelText(),
		Category:    AnnotationCategory{ID: cat.ID, Name: cat.Title, URL: cat.URL},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
