package polls

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MembershipError reports voters enrolled as both local and remote in the
// same poll. The rule is cross-field, checked before any persistence; the
// composite primary key on poll_voters backs it at the storage level.
type MembershipError struct {
	Names []string
}

func (e *MembershipError) Error() string {
	return fmt.Sprintf("voters cannot attend both in the room and remotely: %s",
		strings.Join(e.Names, ", "))
}

// DuplicateMembers returns voter IDs present in both lists.
func DuplicateMembers(local, remote []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(local))
	for _, id := range local {
		seen[id] = struct{}{}
	}
	var dups []uuid.UUID
	for _, id := range remote {
		if _, ok := seen[id]; ok {
			dups = append(dups, id)
		}
	}
	return dups
}
