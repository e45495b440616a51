package session

import "strings"

// KeyInfo contains parsed information from a session key
type KeyInfo struct {
	Raw      string // Original key
	Channel  string // Platform: discord, slack, etc.
	ChatType string // Chat type: guild, dm, thread
	ChatID   string // Chat identifier
}

// BuildKey builds a hierarchical session key of the form
// "<channel>:<chatType>:<chatID>". Keys are stable for the lifetime of a
// conversation and are only ever used as map keys.
func BuildKey(channel, chatType, chatID string) string {
	if channel == "" || chatType == "" || chatID == "" {
		return ""
	}
	return channel + ":" + chatType + ":" + chatID
}

// ParseKey parses a session key into components. Unrecognized shapes leave
// everything but Raw empty.
func ParseKey(key string) *KeyInfo {
	info := &KeyInfo{Raw: key}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 {
		return info
	}
	info.Channel = parts[0]
	info.ChatType = parts[1]
	info.ChatID = parts[2]
	return info
}

// IsDM returns true for direct-message session keys.
func IsDM(key string) bool {
	return ParseKey(key).ChatType == "dm"
}
