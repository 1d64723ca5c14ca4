// internal/fetch/fetch.go
// Package fetch performs single bounded HTTP transactions against vendor
// URLs. Redirects are never followed automatically: the resolver inspects
// status and Location itself, because each hop's handling depends on what
// came back. Response bodies are wrapped in a counting reader that fails the
// moment the configured byte ceiling is crossed, whatever Content-Length
// claimed, which bounds memory against endless or decompression-bomb streams.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

const (
	// DefaultMaxBodyBytes is the hard ceiling on a single response body.
	DefaultMaxBodyBytes = 50 << 20 // 50 MiB

	dialTimeout    = 5 * time.Second
	requestTimeout = 10 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// ErrBodyTooLarge is returned by a Response body read once cumulative bytes
// exceed the configured ceiling.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Client owns the shared transport. Sessions created from it carry their own
// cookie jar so cookie state never leaks between traversals.
type Client struct {
	transport    *http.Transport
	maxBodyBytes int64
}

// NewClient creates a fetch client. maxBodyBytes <= 0 selects the default
// 50 MiB ceiling.
func NewClient(maxBodyBytes int64) *Client {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Client{
		transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
		},
		maxBodyBytes: maxBodyBytes,
	}
}

// NewSession returns a session with a fresh cookie jar. One session serves
// exactly one resolution attempt.
func (c *Client) NewSession() *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		hc: &http.Client{
			Transport: c.transport,
			Jar:       jar,
			Timeout:   requestTimeout,
			// The resolver handles redirects itself; returning the first
			// response unmodified keeps Location visible to it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: c.maxBodyBytes,
	}
}

// Response is the outcome of one HTTP transaction. Body is already wrapped
// in the counting reader; callers must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Session performs bounded fetches sharing one cookie jar.
type Session struct {
	hc           *http.Client
	maxBodyBytes int64
}

// Fetch performs one GET against rawURL. referer, when non-empty, is sent as
// the Referer header; vendor pages frequently gate their media URLs on it.
func (s *Session) Fetch(ctx context.Context, rawURL, referer string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch URL: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       &countingReader{rc: resp.Body, remaining: s.maxBodyBytes},
	}, nil
}

// ContentType returns the media type portion of the Content-Type header,
// lowercased, without parameters. Unparseable values come back verbatim so
// prefix checks still get a chance.
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mediaType
}

// IsAttachment reports whether the response declares itself a file download.
func (r *Response) IsAttachment() bool {
	disposition := strings.ToLower(r.Header.Get("Content-Disposition"))
	return strings.HasPrefix(disposition, "attachment")
}

// ReadAll drains the response body up to the byte ceiling and closes it.
func (r *Response) ReadAll() ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// countingReader enforces the body ceiling. Unlike io.LimitReader it fails
// loudly instead of silently truncating. Reads are allowed one byte past the
// ceiling so a body that ends exactly at the ceiling still reaches its EOF;
// only cumulative bytes beyond the ceiling are an error.
type countingReader struct {
	rc        io.ReadCloser
	remaining int64
	err       error
}

func (c *countingReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.rc.Read(p)
	if int64(n) <= c.remaining {
		c.remaining -= int64(n)
		return n, err
	}
	// The sentinel byte past the ceiling arrived: surface everything up to
	// the ceiling, then fail every read from here on.
	n = int(c.remaining)
	c.remaining = 0
	c.err = ErrBodyTooLarge
	return n, c.err
}

func (c *countingReader) Close() error {
	return c.rc.Close()
}
