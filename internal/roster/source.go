package roster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Source fetches the raw roster table.
type Source interface {
	Fetch(ctx context.Context) (io.ReadCloser, error)
}

// FileSource reads the roster from a local CSV file.
type FileSource struct {
	Path string
}

// Fetch opens the file.
func (s FileSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("roster: open %s: %w", s.Path, err)
	}
	return f, nil
}

// HTTPSource downloads the roster CSV. Each request carries a cache-busting
// query parameter so intermediaries never serve a stale copy.
type HTTPSource struct {
	URL  string
	HTTP *http.Client
}

// NewHTTPSource creates a source with a bounded client timeout.
func NewHTTPSource(rawURL string) *HTTPSource {
	return &HTTPSource{URL: rawURL, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// Fetch performs the GET request.
func (s *HTTPSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("roster: parse url: %w", err)
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("roster: create request: %w", err)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("roster: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("roster: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
