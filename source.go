package photopick

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	defaultMaxSourceBytes = 50 << 20 // 50MB
	defaultSourceTimeout  = 60 * time.Second
	defaultUserAgent      = "photopick/1.0"
)

// HTTPSource fetches originals over HTTP, e.g. from presigned object-store
// URLs or a CDN origin.
type HTTPSource struct {
	Client    *http.Client  // default: http.DefaultClient
	BaseURL   string        // joined with the storage key when URLFor is nil
	UserAgent string        // default: "photopick/1.0"
	MaxBytes  int64         // max body size (default: 50MB)
	Timeout   time.Duration // per-request timeout (default: 60s)

	// URLFor resolves a storage key to a download URL, typically by presigning.
	URLFor func(ctx context.Context, key string) (string, error)
}

// Fetch implements ImageSource. Every failure wraps ErrDownload.
func (s *HTTPSource) Fetch(ctx context.Context, key string) (*SourceImage, error) {
	imageURL, err := s.resolve(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %q: %w", ErrDownload, key, err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxSourceBytes
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	ua := s.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req) //nolint:gosec // URL comes from the operator's storage config
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrDownload, key, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	// Strip MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg"
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if ct != "" && !strings.HasPrefix(ct, "image/") && ct != "application/octet-stream" {
		return nil, fmt.Errorf("%w: %s has content type %q", ErrDownload, key, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrDownload, key, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrDownload, key, maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrDownload, key)
	}

	return &SourceImage{Data: data, Filename: path.Base(key), ContentType: ct}, nil
}

func (s *HTTPSource) resolve(ctx context.Context, key string) (string, error) {
	if s.URLFor != nil {
		return s.URLFor(ctx, key)
	}
	if s.BaseURL == "" {
		return "", fmt.Errorf("no BaseURL or URLFor configured")
	}
	return url.JoinPath(s.BaseURL, key)
}
