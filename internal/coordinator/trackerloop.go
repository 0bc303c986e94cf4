package coordinator

import (
	"context"
	"time"

	"github.com/lvbealr/gopherbit/internal/config"
	"github.com/lvbealr/gopherbit/internal/tracker"
)

// trackerAnnounce is one completed (possibly collapsed-to-empty)
// announce, handed from the tracker goroutine to the coordinator
// goroutine.
type trackerAnnounce struct {
	peers []tracker.Peer
	err   error
}

// runTrackerLoop blocks on HTTP and on an interval timer, never
// touches coordinator state directly, and reports each announce
// result over results. It sends a best-effort "stopped" announce when
// ctx is cancelled before exiting.
func runTrackerLoop(ctx context.Context, client *tracker.Client, c *counters, results chan<- trackerAnnounce) {
	event := tracker.EventStarted
	sentCompleted := false

	for {
		uploaded, downloaded, left := c.snapshot()
		resp, err := client.Announce(ctx, uploaded, downloaded, left, event)

		select {
		case results <- trackerAnnounce{peers: resp.Peers, err: err}:
		case <-ctx.Done():
			announceStopped(client, c)
			return
		}

		if c.isComplete() && !sentCompleted {
			event = tracker.EventCompleted
			sentCompleted = true
		} else {
			event = tracker.EventEmpty
		}

		wait := config.TrackerRetryBackoff
		if err == nil {
			wait = tracker.CappedInterval(resp.Interval)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			announceStopped(client, c)
			return
		}
	}
}

func announceStopped(client *tracker.Client, c *counters) {
	uploaded, downloaded, left := c.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), config.AnnounceTimeout)
	defer cancel()
	// Best-effort: errors are deliberately ignored on the way out the door.
	_, _ = client.Announce(ctx, uploaded, downloaded, left, tracker.EventStopped)
}
