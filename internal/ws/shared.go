package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/legalcheck/legalcheck-client/internal/observability"
)

var (
	sharedMu sync.Mutex
	shared   *Channel
)

// Shared returns the process-wide channel, constructing it from cfg on first
// use. Later calls ignore their arguments until ResetShared.
func Shared(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Channel {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = NewChannel(cfg, logger, metrics)
	}
	return shared
}

// ResetShared disconnects and forgets the process-wide channel. Call it on
// logout or full session teardown.
func ResetShared(ctx context.Context) error {
	sharedMu.Lock()
	ch := shared
	shared = nil
	sharedMu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Disconnect(ctx)
}
