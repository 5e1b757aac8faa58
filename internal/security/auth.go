package security

import (
	"context"
	"strings"

	"github.com/chainguard-dev/clog"
)

// IsAuthorized checks if a user is in the allowed users list.
// If the allowed list is empty, all users are authorized.
func IsAuthorized(ctx context.Context, allowedUsers []string, username string) bool {
	if len(allowedUsers) == 0 {
		return true
	}

	for _, u := range allowedUsers {
		if strings.EqualFold(u, username) {
			return true
		}
	}

	clog.FromContext(ctx).Debugf("Ignoring input from %s: not in allowed authors", username)
	return false
}
