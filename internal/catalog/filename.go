package catalog

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

const maxFilenameField = 999999

// DeriveFilename returns the fixed-width on-disk name for an item,
// CCCCCC_SSSSSS followed by ext.
func DeriveFilename(categoryID string, sequence int, ext string) (string, error) {
	id, err := strconv.Atoi(categoryID)
	if err != nil || !canonicalID(categoryID) || id > maxFilenameField {
		return "", fmt.Errorf("%w: category id %q is not a 6-digit number", ErrInvalidArgument, categoryID)
	}
	if sequence < 0 || sequence > maxFilenameField {
		return "", fmt.Errorf("%w: sequence %d out of range", ErrInvalidArgument, sequence)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("%06d_%06d%s", id, sequence, ext), nil
}

// canonicalID reports whether s is plain ASCII digits without leading zeros,
// so distinct ids never share a name.
func canonicalID(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// SourceFilename returns the decoded last path segment of rawURL.
func SourceFilename(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.EscapedPath()
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		return decoded
	}
	return base
}
