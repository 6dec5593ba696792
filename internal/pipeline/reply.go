package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgnsrekt/visionary/internal/resolver"
)

// Reply markers.
const (
	EmojiBlueBubble = "\U0001F535"
	EmojiRedBubble  = "\U0001F534"
	EmojiProcess    = "\U0001F504"
	EmojiProcessed  = "⏺"
	EmojiCheck      = "✅"
	EmojiWarn       = "⚠"
	EmojiCross      = "❌"
	EmojiOK         = "\U0001F197"
	EmojiTimeout    = "⌛"
	EmojiPackage    = "\U0001F4E6"
)

// linkPattern matches a link at the start of a message, ended by a line break.
var linkPattern = regexp.MustCompile(`^(https?://[^<\n]+)(?:<br>|\n)`)

// FindLink returns the leading link of a message, or "" when there is none.
func FindLink(text string) string {
	m := linkPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func processingText(link string) string {
	return EmojiProcess + " " + link
}

func timeoutText(link string) string {
	return EmojiTimeout + " " + link
}

func fileText(res *resolver.ResolvedLink) string {
	return EmojiPackage + " " + res.Location.String()
}

// resolvedText shows the redirect trail when the link left its host.
func resolvedText(link string, res *resolver.ResolvedLink) string {
	shown := link
	if res.Redirected() {
		shown = res.RedirectPath
	}
	return fmt.Sprintf("%s %s (%.2fs)", EmojiProcessed, shown, res.Elapsed)
}
