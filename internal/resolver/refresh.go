package resolver

import (
	"strings"

	"golang.org/x/net/html"
)

// MetaRefreshTarget returns the URL named by the first
// <meta http-equiv="refresh"> directive in doc, or "".
func MetaRefreshTarget(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var equiv, content string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "http-equiv":
					equiv = string(val)
				case "content":
					content = string(val)
				}
				if !more {
					break
				}
			}
			if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
				continue
			}
			if target := refreshURL(content); target != "" {
				return target
			}
		}
	}
}

// refreshURL extracts the target from a content value such as
// "0; url='https://example.com/'".
func refreshURL(content string) string {
	_, rest, ok := strings.Cut(content, ";")
	if !ok {
		_, rest, ok = strings.Cut(content, ",")
		if !ok {
			return ""
		}
	}
	rest = strings.TrimSpace(rest)
	if len(rest) >= 3 && strings.EqualFold(rest[:3], "url") {
		if after := strings.TrimSpace(rest[3:]); strings.HasPrefix(after, "=") {
			rest = strings.TrimSpace(after[1:])
		}
	}
	return strings.TrimSpace(strings.Trim(rest, `'"`))
}
