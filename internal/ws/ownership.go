package ws

import (
	"errors"
	"fmt"

	"fitchat/internal/models"
	"fitchat/internal/realtime"
)

var ErrForbidden = errors.New("forbidden")

const (
	anyKey   = "*"
	ownerKey = "$user"
)

// Shared trees of the chat layout. In owned trees a user may only write at or
// below their own entry. The message log only grows by pushes signed with the
// writer's name.
var (
	ownedTrees = [][]string{
		{"communities", anyKey, "presence", ownerKey},
		{"chats", anyKey, "readStatus", anyKey, ownerKey},
	}
	messageLog = []string{"chats", anyKey, "messages"}
)

// checkWrite decides whether username may apply a write op at path. Paths
// that do not parse are left for the session to reject.
func checkWrite(username string, op models.FrameOp, path string, value any) error {
	segs, err := realtime.SplitPath(path)
	if err != nil {
		return nil
	}

	if op == models.FrameOpPush {
		if len(segs) == len(messageLog) && matchPrefix(segs, messageLog) {
			if authorOf(value) != username {
				return fmt.Errorf("%w: message must be sent as %s", ErrForbidden, username)
			}
			return nil
		}
		// The pushed key is not known yet and never names a user.
		segs = append(segs, "")
	}

	for _, tree := range ownedTrees {
		if !matchPrefix(segs, tree) {
			continue
		}
		if len(segs) < len(tree) {
			return fmt.Errorf("%w: %s is shared", ErrForbidden, path)
		}
		if owner := segs[len(tree)-1]; owner != username {
			return fmt.Errorf("%w: %s belongs to %s", ErrForbidden, path, owner)
		}
	}

	if matchPrefix(segs, messageLog) {
		return fmt.Errorf("%w: %s is append only", ErrForbidden, path)
	}
	return nil
}

// matchPrefix reports whether segs and pattern agree on their common prefix.
func matchPrefix(segs, pattern []string) bool {
	for i := 0; i < len(segs) && i < len(pattern); i++ {
		switch pattern[i] {
		case anyKey, ownerKey:
		default:
			if segs[i] != pattern[i] {
				return false
			}
		}
	}
	return true
}

func authorOf(value any) string {
	m, _ := value.(map[string]any)
	author, _ := m["userName"].(string)
	return author
}
