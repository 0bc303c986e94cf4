// Package tracker implements the HTTP tracker announce exchange (BEP 3),
// including BEP 12 multi-tier fallback across a torrent's announce-list.
package tracker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lvbealr/gopherbit/internal/config"
)

// Event is the tracker announce event parameter.
type Event string

const (
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
	EventEmpty     Event = "empty"
)

// Client issues announces against a torrent's announce tier(s).
type Client struct {
	Tiers    []string
	InfoHash [20]byte
	PeerID   [20]byte
	Port     int

	HTTPClient *http.Client
	Log        *logrus.Entry
}

// New builds a Client from a primary announce URL plus any additional
// BEP 12 tiers. Duplicate and empty URLs are dropped; tier order is
// preserved with the primary URL first.
func New(announceURL string, announceList [][]string, infoHash, peerID [20]byte, log *logrus.Entry) *Client {
	seen := make(map[string]struct{})
	var tiers []string

	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		tiers = append(tiers, u)
	}

	add(announceURL)
	for _, tier := range announceList {
		for _, u := range tier {
			add(u)
		}
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		Tiers:    tiers,
		InfoHash: infoHash,
		PeerID:   peerID,
		Port:     config.DefaultPort,
		HTTPClient: &http.Client{
			Timeout: config.AnnounceTimeout,
		},
		Log: log,
	}
}

// Announce performs a GET against each tier in order, returning the
// first tier's successful result (a tracker-reported "failure reason"
// counts as a successful response) without trying the remaining tiers.
// A tier whose request fails (unreachable, non-2xx status, malformed
// response) falls through to the next tier; this is BEP 12 fallback,
// not retried concurrently and not retried by Announce itself (the
// coordinator re-invokes on its own interval).
func (c *Client) Announce(ctx context.Context, uploaded, downloaded, left int64, event Event) (Response, error) {
	if len(c.Tiers) == 0 {
		return Response{Peers: nil, Interval: config.DefaultTrackerInterval}, fmt.Errorf(
			"tracker: no announce tiers configured: %w", ErrUnreachable)
	}

	var lastErr error
	for _, tier := range c.Tiers {
		resp, err := c.announceOne(ctx, tier, uploaded, downloaded, left, event)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		c.Log.WithError(err).WithField("tier", tier).Warn("tracker tier failed, trying next")
	}

	return Response{Peers: nil, Interval: config.DefaultTrackerInterval}, fmt.Errorf(
		"tracker: all tiers failed: %w: %w", lastErr, ErrUnreachable)
}

func (c *Client) announceOne(ctx context.Context, announceURL string, uploaded, downloaded, left int64, event Event) (Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, config.AnnounceTimeout)
	defer cancel()

	u := c.buildURL(announceURL, uploaded, downloaded, left, event)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "gopherbit/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("sending request: %w: %w", err, ErrUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("unexpected status %d: %w", resp.StatusCode, ErrUnreachable)
	}

	parsed, err := decodeResponse(resp.Body)
	if err != nil {
		// Malformed bencode is a transport-level problem: collapse to an
		// empty peer list, but still propagate the error so tier
		// fallback and the retry backoff can see why.
		return Response{Peers: nil, Interval: config.DefaultTrackerInterval}, err
	}

	if parsed.FailureReason != "" {
		c.Log.WithField("tier", announceURL).WithField("reason", parsed.FailureReason).Warn("tracker reported failure reason")
	}

	if parsed.Interval <= 0 {
		parsed.Interval = config.DefaultTrackerInterval
	}

	return parsed, nil
}

func (c *Client) buildURL(announceURL string, uploaded, downloaded, left int64, event Event) string {
	query := fmt.Sprintf(
		"info_hash=%s&peer_id=%s&port=%d&uploaded=%d&downloaded=%d&left=%d&event=%s&compact=1",
		percentEncode(c.InfoHash[:]),
		percentEncode(c.PeerID[:]),
		c.Port,
		uploaded,
		downloaded,
		left,
		event,
	)

	sep := "?"
	if containsQuery(announceURL) {
		sep = "&"
	}
	return announceURL + sep + query
}

func containsQuery(u string) bool {
	for i := 0; i < len(u); i++ {
		if u[i] == '?' {
			return true
		}
	}
	return false
}

// CappedInterval clamps a tracker-proposed interval to the coordinator's
// maximum re-announce period. A non-positive interval is replaced by
// config.DefaultTrackerInterval, which is returned without the cap.
func CappedInterval(interval time.Duration) time.Duration {
	if interval > config.MaxTrackerInterval {
		return config.MaxTrackerInterval
	}
	if interval <= 0 {
		return config.DefaultTrackerInterval
	}
	return interval
}
