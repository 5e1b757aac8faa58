package providers

import "strings"

// BotMarker tags comments posted by code-agent itself
const BotMarker = "<!-- code-agent -->"

// IsBotComment reports whether body was posted by code-agent
func IsBotComment(body string) bool {
	return strings.Contains(body, BotMarker)
}

// AddBotMarker adds the bot marker to a comment body
func AddBotMarker(body string) string {
	return body + "\n\n" + BotMarker
}
