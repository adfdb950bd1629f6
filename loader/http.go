package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/singleflight"

	"github.com/pdok/tiler/tilecoord"
)

// HTTP fetches tiles with GET requests. Concurrent requests for the same URL share
// one round trip.
type HTTP struct {
	client    *http.Client
	UserAgent string

	inflight singleflight.Group
}

// NewHTTP returns an HTTP loader on client, http.DefaultClient when nil.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, UserAgent: "tiler"}
}

// Load ignores coord; the URL already encodes it. 204 and 404 responses mean
// there is no tile.
func (h *HTTP) Load(ctx context.Context, _ tilecoord.Coord, url string) ([]byte, error) {
	v, err, _ := h.inflight.Do(url, func() (interface{}, error) {
		return h.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (h *HTTP) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request for %s: %w", url, err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not get %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return []byte{}, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s for %s", ErrUnexpectedStatus, resp.Status, url)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response of %s: %w", url, err)
	}
	return body, nil
}
