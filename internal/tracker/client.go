package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prxssh/phantom/internal/bencode"
	"github.com/prxssh/phantom/internal/identity"
)

// sharedClient is the process-wide HTTP client reused by every faker.
// Sharing one client lets the transport pool connections per host,
// which both improves latency and makes the whole fleet look, at the
// TCP layer, like a handful of long-lived clients rather than hundreds
// of one-shot dialers.
var sharedClient = &http.Client{
	Timeout: 30 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("tracker: stopped after 5 redirects")
		}
		return nil
	},
}

// Client issues announce requests against one tracker announce URL.
type Client struct {
	announceURL string
}

// New returns a Client bound to the given announce URL. The URL's
// scheme is not validated here; callers are expected to have already
// rejected non-http(s) torrents in the metainfo layer.
func New(announceURL string) *Client {
	return &Client{announceURL: announceURL}
}

// Announce performs one GET against the tracker and parses its bencoded
// response. Errors returned are one of ErrNetwork, ErrTimeout,
// ErrBencode, *HTTPStatusError, or *TrackerRefusedError, per the failure
// classification this package implements.
func (c *Client) Announce(
	ctx context.Context,
	id *identity.Identity,
	p AnnounceParams,
) (*AnnounceResponse, error) {
	reqURL := buildAnnounceURL(c.announceURL, id, p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header = id.Headers.Clone()

	resp, err := sharedClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{Code: resp.StatusCode}
	}

	return parseAnnounceResponse(resp.Body)
}

func parseAnnounceResponse(r io.Reader) (*AnnounceResponse, error) {
	decoded, err := bencode.NewDecoder(r).Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBencode, err)
	}

	data, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(
			"%w: expected dictionary, got %T",
			ErrBencode,
			decoded,
		)
	}

	if reason, ok := data["failure reason"].(string); ok {
		return nil, &TrackerRefusedError{Message: reason}
	}

	var warning string
	if w, ok := data["warning message"].(string); ok {
		warning = w
		slog.Warn("tracker warning", slog.String("message", w))
	}

	interval, ok := data["interval"].(int64)
	if !ok || interval < 1 {
		return nil, fmt.Errorf(
			"%w: missing or invalid 'interval'",
			ErrBencode,
		)
	}

	var minInterval time.Duration
	if mi, ok := data["min interval"].(int64); ok && mi > 0 {
		minInterval = time.Duration(mi) * time.Second
	}

	trackerID, _ := data["tracker id"].(string)
	complete, _ := data["complete"].(int64)
	incomplete, _ := data["incomplete"].(int64)

	return &AnnounceResponse{
		Interval:    clampInterval(time.Duration(interval) * time.Second),
		MinInterval: minInterval,
		TrackerID:   trackerID,
		Warning:     warning,
		Seeders:     uint32(complete),
		Leechers:    uint32(incomplete),
	}, nil
}

// NewBackoff returns a fresh exponential backoff policy for announce
// retries, capped at 5 minutes between attempts, per the announce
// protocol's retry schedule.
func NewBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return b
}
