package networking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	historyPath      = "/history"
	historyClearPath = "/history/clear"

	DefaultHistoryInterval = 3 * time.Second
	DefaultHistoryLimit    = 200
)

type HistoryEntry struct {
	// Wall-clock time of the transcript as formatted by the server, e.g. 14:03:27
	Time string `json:"time"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// Transcript history, oldest first.
type History []HistoryEntry

// A failed history fetch or clear.
type HistoryRequestError struct {
	// "fetch" or "clear"
	Op string

	// HTTP status, zero if no response was received.
	StatusCode int
	Err        error
}

func (e *HistoryRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("history %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("history %s: %v", e.Op, e.Err)
}

func (e *HistoryRequestError) Unwrap() error {
	return e.Err
}

type HistoryClientOptions struct {
	// Entries requested per fetch. Zero or less leaves the limit to the server.
	Limit int

	// Time between polls. Defaults to DefaultHistoryInterval.
	Interval time.Duration

	// Defaults to http.DefaultClient
	HTTPClient *http.Client
}

// Polls the transcript history over HTTP and keeps the latest snapshot.
//
// Snapshots are replaced whole, never merged. Render is called on the poster's context.
type HistoryClient struct {
	logger *slog.Logger

	serverURL  string
	limit      int
	interval   time.Duration
	httpClient *http.Client
	poster     Poster
	render     func(History)

	snapshot atomic.Pointer[History]
}

// render is called with each successfully fetched snapshot. It may be nil.
func NewHistoryClient(serverURL string, poster Poster, render func(History), opts HistoryClientOptions) *HistoryClient {
	if opts.Interval <= 0 {
		opts.Interval = DefaultHistoryInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	uuid := uuid.New()
	return &HistoryClient{
		logger:     slog.Default().With("history client uuid", uuid),
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		limit:      opts.Limit,
		interval:   opts.Interval,
		httpClient: opts.HTTPClient,
		poster:     poster,
		render:     render,
	}
}

// The latest snapshot, nil before the first successful fetch.
func (c *HistoryClient) Snapshot() History {
	if h := c.snapshot.Load(); h != nil {
		return *h
	}
	return nil
}

// Fetch the history now, replacing the snapshot on success.
// Failures leave the previous snapshot in place and return a *HistoryRequestError.
func (c *HistoryClient) Fetch(ctx context.Context) (History, error) {
	endpoint := c.serverURL + historyPath
	if c.limit > 0 {
		endpoint += "?" + url.Values{"limit": {strconv.Itoa(c.limit)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &HistoryRequestError{Op: "fetch", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &HistoryRequestError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &HistoryRequestError{Op: "fetch", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	var history History
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, &HistoryRequestError{Op: "fetch", StatusCode: resp.StatusCode, Err: err}
	}
	if history == nil {
		history = History{}
	}

	c.snapshot.Store(&history)
	c.logger.Debug("history fetched", "entries", len(history))
	if c.render != nil {
		c.poster.Post(func() { c.render(history) })
	}
	return history, nil
}

// Ask the server to clear the history, then fetch it again.
func (c *HistoryClient) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+historyClearPath, nil)
	if err != nil {
		return &HistoryRequestError{Op: "clear", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HistoryRequestError{Op: "clear", Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HistoryRequestError{Op: "clear", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	c.logger.Info("history cleared")

	_, err = c.Fetch(ctx)
	return err
}

// Fetch immediately and then on every interval until the context ends.
// Failed fetches are logged and polling continues.
func (c *HistoryClient) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if _, err := c.Fetch(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("history fetch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
