// Package notifier handles sending notifications to subscribers.
package notifier

import (
	"context"
	"sort"
	"time"

	"github.com/user/sunbot/internal/subscription"
	"github.com/user/sunbot/pkg/logger"
)

// Notifier delivers one message to many targets, pacing the sends.
type Notifier struct {
	delay time.Duration
}

// Result counts the outcome of a broadcast.
type Result struct {
	Sent   int
	Failed int
}

// NewNotifier creates a notifier waiting delay between two sends.
func NewNotifier(delay time.Duration) *Notifier {
	return &Notifier{delay: delay}
}

// Broadcast sends text (and the optional attachment) to every target, in
// ascending subscriber ID order. A failed send is logged and does not stop
// delivery to the remaining targets. Broadcast returns early only when ctx
// is cancelled.
//
// attach may be nil. It is called once per target because an attachment
// reader is consumed by the send.
func (n *Notifier) Broadcast(ctx context.Context, text string, attach func() *subscription.Attachment, targets map[int64]subscription.Target) Result {
	ids := make([]int64, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var res Result
	for i, id := range ids {
		if i > 0 && !n.wait(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		var attachment *subscription.Attachment
		if attach != nil {
			attachment = attach()
		}

		if err := targets[id].Send(ctx, text, attachment); err != nil {
			res.Failed++
			logger.Error().
				Err(err).
				Int64("sub_id", id).
				Int64("entity_id", targets[id].EntityID()).
				Msg("Failed to send notification")
			// Continue sending to other subscribers
			continue
		}
		res.Sent++
	}
	return res
}

// wait sleeps for the pacing delay; it returns false if ctx ends first.
func (n *Notifier) wait(ctx context.Context) bool {
	if n.delay <= 0 {
		return true
	}
	timer := time.NewTimer(n.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
