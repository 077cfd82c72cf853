package chat

import (
	"sync/atomic"
	"time"

	"github.com/legalcheck/legalcheck-client/pkg/models"
)

// DefaultReconcileWindow bounds the clock distance between an optimistic
// message and the server copy that confirms it.
const DefaultReconcileWindow = 30 * time.Second

var provisionalSeq atomic.Int64

// nextProvisionalID returns a process-unique negative id. Server ids are
// positive, so the two ranges never collide.
func nextProvisionalID() int64 {
	return -provisionalSeq.Add(1)
}

// confirms reports whether confirmed is the server copy of the optimistic
// entry pending.
func confirms(pending, confirmed models.Message, window time.Duration) bool {
	if !pending.IsProvisional() || confirmed.IsProvisional() {
		return false
	}
	if pending.Author != models.AuthorUser || confirmed.Author != models.AuthorUser {
		return false
	}
	if pending.ConversationID != confirmed.ConversationID || pending.Content != confirmed.Content {
		return false
	}
	if pending.CreatedAt.IsZero() || confirmed.CreatedAt.IsZero() {
		return true
	}
	delta := confirmed.CreatedAt.Sub(pending.CreatedAt.Time)
	if delta < 0 {
		delta = -delta
	}
	return delta <= window
}

// withConfirmed returns a copy of messages with confirmed in place of the
// oldest optimistic entry it confirms, or appended when none matches. A
// server id already present is not added twice.
func withConfirmed(messages []models.Message, confirmed models.Message, window time.Duration) ([]models.Message, bool) {
	out := make([]models.Message, len(messages), len(messages)+1)
	copy(out, messages)
	if confirmed.ID > 0 {
		for _, m := range out {
			if m.ID == confirmed.ID {
				return out, false
			}
		}
	}
	for i, m := range out {
		if confirms(m, confirmed, window) {
			out[i] = confirmed
			return out, true
		}
	}
	return append(out, confirmed), false
}

// mergeSnapshot returns snapshot with every optimistic message of local that
// the snapshot does not confirm appended at the tail. Snapshots of another
// conversation replace local outright.
func mergeSnapshot(snapshot, local *models.Conversation, window time.Duration) *models.Conversation {
	merged := snapshot.Clone()
	if merged == nil || local == nil || local.ID != snapshot.ID {
		return merged
	}
	used := make([]bool, len(snapshot.Messages))
	for _, pending := range local.Messages {
		if !pending.IsProvisional() {
			continue
		}
		matched := false
		for i, m := range snapshot.Messages {
			if !used[i] && confirms(pending, m, window) {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			merged.Messages = append(merged.Messages, pending)
		}
	}
	return merged
}
