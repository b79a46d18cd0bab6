// Package session owns per-conversation transcripts: the durable SQLite
// store, the write-behind in-memory cache, and compaction of old messages
// into summaries.
package session

import (
	"fmt"
	"strings"
)

const (
	userPrefix  = "session_u"
	guildPrefix = "session_g"
)

// UserSessionID returns the session id for a direct conversation with a user.
func UserSessionID(userID string) string { return userPrefix + userID }

// GuildSessionID returns the session id shared by everyone in a guild.
func GuildSessionID(guildID string) string { return guildPrefix + guildID }

// ParseSessionID splits id into its kind ("user" or "guild") and the
// platform id it was built from.
func ParseSessionID(id string) (kind, platformID string, err error) {
	switch {
	case strings.HasPrefix(id, userPrefix) && len(id) > len(userPrefix):
		return "user", strings.TrimPrefix(id, userPrefix), nil
	case strings.HasPrefix(id, guildPrefix) && len(id) > len(guildPrefix):
		return "guild", strings.TrimPrefix(id, guildPrefix), nil
	}
	return "", "", fmt.Errorf("unrecognized session id %q", id)
}
