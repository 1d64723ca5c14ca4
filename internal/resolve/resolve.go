// internal/resolve/resolve.go
// Package resolve walks a vendor URL until it yields durable media. Starting
// from the QR payload it follows redirects and download pages hop by hop,
// branching on each response shape: 3xx is followed manually, binary media is
// downloaded, sniffed and stored, HTML goes through the heuristic extractor
// for the next hop, and anything else terminates the attempt. Hop caps, a
// visited-URL set, and an end-to-end deadline bound every traversal; failures
// always come back as one classified error.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	errordefs "github.com/boothvault/boothvault-ingest-go/internal/errors"
	"github.com/boothvault/boothvault-ingest-go/internal/extract"
	"github.com/boothvault/boothvault-ingest-go/internal/fetch"
	"github.com/boothvault/boothvault-ingest-go/internal/media"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/boothvault/boothvault-ingest-go/internal/sniff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Fetcher performs one bounded HTTP transaction. Implemented by
// *fetch.Session; tests substitute fakes to count invocations.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, referer string) (*fetch.Response, error)
}

// SessionFactory hands out a fresh Fetcher per traversal so cookie state
// never crosses between resolution attempts.
type SessionFactory interface {
	NewSession() Fetcher
}

// ClientSessions adapts *fetch.Client to SessionFactory.
func ClientSessions(c *fetch.Client) SessionFactory {
	return clientSessions{c: c}
}

type clientSessions struct {
	c *fetch.Client
}

func (s clientSessions) NewSession() Fetcher {
	return s.c.NewSession()
}

// Config bounds a traversal. Zero values select the defaults.
type Config struct {
	MaxRedirectHops  int           // Redirect follows per attempt (default 5)
	MaxHTMLHops      int           // HTML extraction follows per attempt (default 2)
	MinImageBytes    int           // Smallest plausible image; tinier payloads are placeholders (default 4 KiB)
	TraversalTimeout time.Duration // End-to-end deadline across all hops (default 45s)
}

func (c Config) withDefaults() Config {
	if c.MaxRedirectHops <= 0 {
		c.MaxRedirectHops = 5
	}
	if c.MaxHTMLHops <= 0 {
		c.MaxHTMLHops = 2
	}
	if c.MinImageBytes <= 0 {
		c.MinImageBytes = 4 * 1024
	}
	if c.TraversalTimeout <= 0 {
		c.TraversalTimeout = 45 * time.Second
	}
	return c
}

// Resolver drives the traversal state machine.
type Resolver struct {
	sessions SessionFactory
	blobs    media.BlobStore
	m        *metrics.Metrics
	cfg      Config
}

// NewResolver creates a resolver over the given fetch sessions and blob store.
func NewResolver(sessions SessionFactory, blobs media.BlobStore, m *metrics.Metrics, cfg Config) *Resolver {
	return &Resolver{
		sessions: sessions,
		blobs:    blobs,
		m:        m,
		cfg:      cfg.withDefaults(),
	}
}

// traversalState tracks one attempt. Never shared, never persisted.
type traversalState struct {
	visited   map[string]bool // Normalized URLs already fetched
	redirects int
	htmlHops  int
	hops      int
}

// Resolve follows startURL until media is stored or the attempt fails.
// On success the returned candidate has at least one of image/video set and
// the thumbnail defaulted to the image. All failures are *errordefs.Error
// values with one of the traversal codes.
func (r *Resolver) Resolve(ctx context.Context, startURL string) (*model.AssetCandidate, error) {
	ctx, span := otel.Tracer("ingest-service").Start(ctx, "resolve")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.TraversalTimeout)
	defer cancel()

	current, err := url.Parse(startURL)
	if err != nil || (current.Scheme != "http" && current.Scheme != "https") || current.Host == "" {
		return nil, errordefs.New(errordefs.INGEST_INVALID_PAYLOAD, "payload is not an http(s) URL", "")
	}

	session := r.sessions.NewSession()
	state := &traversalState{visited: make(map[string]bool)}
	candidate := &model.AssetCandidate{}
	referer := ""

	start := time.Now()
	defer func() {
		r.m.TraversalHops.Observe(float64(state.hops))
		r.m.TraversalDuration.Observe(time.Since(start).Seconds())
	}()

	for {
		norm := normalizeURL(current)
		if state.visited[norm] {
			return nil, errordefs.New(errordefs.INGEST_REDIRECT_LOOP,
				fmt.Sprintf("already visited %s", norm), "")
		}
		state.visited[norm] = true

		resp, err := session.Fetch(ctx, current.String(), referer)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, errordefs.New(errordefs.INGEST_BUDGET_EXCEEDED, "traversal deadline exceeded", "")
			}
			return nil, errordefs.New(errordefs.INGEST_UPSTREAM, err.Error(), "")
		}
		state.hops++
		span.SetAttributes(
			attribute.String("hop.url", current.String()),
			attribute.Int("hop.status", resp.StatusCode),
		)

		// Redirect: follow Location manually, counting hops.
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			resp.Body.Close()
			location := resp.Header.Get("Location")
			if location == "" {
				return nil, errordefs.New(errordefs.INGEST_UPSTREAM,
					fmt.Sprintf("redirect without Location from %s", current.Host), "")
			}
			next, err := current.Parse(location)
			if err != nil {
				return nil, errordefs.New(errordefs.INGEST_UPSTREAM,
					fmt.Sprintf("unparseable Location %q", location), "")
			}
			state.redirects++
			if state.redirects > r.cfg.MaxRedirectHops {
				return nil, errordefs.New(errordefs.INGEST_BUDGET_EXCEEDED, "redirect hop cap reached", "")
			}
			slog.Debug("following redirect", "from", current.String(), "to", next.String())
			current = next
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, errordefs.New(errordefs.INGEST_UPSTREAM,
				fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, current.Host), "")
		}

		contentType := resp.ContentType()
		switch {
		case strings.HasPrefix(contentType, "image/") || strings.HasPrefix(contentType, "video/") || resp.IsAttachment():
			body, err := resp.ReadAll()
			if err != nil {
				if errors.Is(err, fetch.ErrBodyTooLarge) {
					return nil, errordefs.New(errordefs.INGEST_UPSTREAM, "media exceeds download size limit", "")
				}
				return nil, errordefs.New(errordefs.INGEST_UPSTREAM, err.Error(), "")
			}
			r.m.FetchedBytes.Observe(float64(len(body)))
			if err := r.storeMedia(ctx, candidate, body, contentType, current, resp.Header); err != nil {
				return nil, err
			}
			slog.Debug("media stored", "url", current.String(), "image_key", candidate.ImageKey, "video_key", candidate.VideoKey)
			return candidate, nil

		case strings.HasPrefix(contentType, "text/html"):
			if state.htmlHops >= r.cfg.MaxHTMLHops {
				resp.Body.Close()
				return nil, errordefs.New(errordefs.INGEST_BUDGET_EXCEEDED, "html hop cap reached", "")
			}
			body, err := resp.ReadAll()
			if err != nil {
				if errors.Is(err, fetch.ErrBodyTooLarge) {
					return nil, errordefs.New(errordefs.INGEST_UPSTREAM, "page exceeds download size limit", "")
				}
				return nil, errordefs.New(errordefs.INGEST_UPSTREAM, err.Error(), "")
			}
			next, ok := extract.Extract(body, current)
			if !ok {
				return nil, errordefs.New(errordefs.INGEST_UNRECOGNIZED_CONTENT,
					fmt.Sprintf("no media link found on %s", current.Host), "")
			}
			state.htmlHops++
			slog.Debug("following extracted link", "page", current.String(), "next", next.String())
			referer = current.String()
			current = next
			continue

		default:
			resp.Body.Close()
			return nil, errordefs.New(errordefs.INGEST_UNRECOGNIZED_CONTENT,
				fmt.Sprintf("unsupported content type %q", contentType), "")
		}
	}
}

// storeMedia sniffs the downloaded bytes and stores them as image or video.
// Magic bytes always win over the declared type. A declared image that fails
// the sniff or the minimum-size check is rejected outright rather than stored
// unvalidated.
func (r *Resolver) storeMedia(ctx context.Context, candidate *model.AssetCandidate, body []byte, declaredType string, source *url.URL, header http.Header) error {
	kind := sniff.Sniff(body)
	declaredImage := strings.HasPrefix(declaredType, "image/")
	declaredVideo := strings.HasPrefix(declaredType, "video/")

	switch {
	case kind.IsImage():
		if len(body) < r.cfg.MinImageBytes {
			return errordefs.New(errordefs.INGEST_CONTENT_INVALID,
				fmt.Sprintf("image of %d bytes below plausible minimum", len(body)), "")
		}
		key, err := r.blobs.Put(ctx, body, sniff.ContentTypeFor(kind), filenameFor(source, kind))
		if err != nil {
			return errordefs.New(errordefs.INGEST_STORAGE, err.Error(), "")
		}
		candidate.ImageKey = key
		candidate.ThumbnailKey = key

	case kind.IsVideo():
		key, err := r.blobs.Put(ctx, body, sniff.ContentTypeFor(kind), filenameFor(source, kind))
		if err != nil {
			return errordefs.New(errordefs.INGEST_STORAGE, err.Error(), "")
		}
		candidate.VideoKey = key

	case declaredVideo:
		// The sniffer only knows the ISO-BMFF family; containers like WebM
		// carry no signature it recognizes. Trust the declared video type
		// when magic bytes are silent.
		key, err := r.blobs.Put(ctx, body, declaredType, filenameKeepExt(source))
		if err != nil {
			return errordefs.New(errordefs.INGEST_STORAGE, err.Error(), "")
		}
		candidate.VideoKey = key

	case declaredImage:
		// Fail closed: a declared image whose bytes are not an image is
		// either a broken placeholder or something worse.
		return errordefs.New(errordefs.INGEST_CONTENT_INVALID,
			fmt.Sprintf("declared %s did not sniff as an image", declaredType), "")

	default:
		return errordefs.New(errordefs.INGEST_UNRECOGNIZED_CONTENT,
			"attachment bytes match no known media signature", "")
	}

	if lm := header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			candidate.TakenAt = &t
		}
	}
	return nil
}

// normalizeURL produces the visited-set key: lowercase scheme and host,
// default port stripped, empty path coerced to "/".
func normalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return fmt.Sprintf("%s://%s%s?%s", scheme, host, p, u.RawQuery)
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, p)
}

// filenameFor derives a suggested blob filename from the source URL, with
// the extension corrected to match the sniffed kind.
func filenameFor(source *url.URL, kind sniff.Kind) string {
	base := path.Base(source.Path)
	if base == "." || base == "/" || base == "" {
		base = "media"
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base + sniff.ExtensionFor(kind)
}

// filenameKeepExt keeps the source URL's own filename when the sniffer had
// nothing better to say about the bytes.
func filenameKeepExt(source *url.URL) string {
	base := path.Base(source.Path)
	if base == "." || base == "/" || base == "" {
		base = "media"
	}
	return base
}
