package resolver

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

const maxExtensionLen = 15

var extensionNoise = regexp.MustCompile(`[^A-Za-z.]`)

// DefaultBrowsableExtensions are file extensions still worth opening in a tab.
var DefaultBrowsableExtensions = []string{".html", ".php"}

// Classifier decides whether a link points at a downloadable file.
type Classifier struct {
	browsable map[string]struct{}
}

func NewClassifier(browsable []string) *Classifier {
	if len(browsable) == 0 {
		browsable = DefaultBrowsableExtensions
	}
	set := make(map[string]struct{}, len(browsable))
	for _, ext := range browsable {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &Classifier{browsable: set}
}

// IsFile reports whether the last path segment carries an extension outside
// the browsable set. Extensions longer than 15 characters are slugs.
func (c *Classifier) IsFile(u *url.URL) bool {
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return false
	}
	segment := path.Base(p)
	dot := strings.LastIndex(segment, ".")
	if dot < 0 {
		return false
	}
	ext := extensionNoise.ReplaceAllString(segment[dot:], "")
	if ext == "." || len(ext) > maxExtensionLen {
		return false
	}
	_, ok := c.browsable[strings.ToLower(ext)]
	return !ok
}
