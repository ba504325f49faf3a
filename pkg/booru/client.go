package booru

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/moeview/moeview/internal/logger"
)

// Source is the content fetch primitive the download coordinator consumes.
type Source interface {
	// FetchMetadata returns size and kind information for an item.
	FetchMetadata(ctx context.Context, id ItemID) (*Metadata, error)
	// FetchRange opens a byte stream for an item starting at the given
	// offset. A zero offset requests the full content.
	FetchRange(ctx context.Context, id ItemID, start int64) (*RangeResult, error)
}

// RangeResult is an open byte stream returned by FetchRange.
type RangeResult struct {
	// Body streams the content. Nil when Complete is true.
	Body io.ReadCloser
	// Start is the offset at which Body begins. Servers that ignore the
	// Range header reset it to zero; callers must discard any partial
	// bytes they hold and write from the beginning.
	Start int64
	// TotalSize is the full content length, or 0 if unknown.
	TotalSize int64
	// Complete reports that the requested offset equals the content
	// length, meaning the previously fetched bytes already form the
	// whole item.
	Complete bool
}

// Client talks to a Moebooru-style board over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string

	mu       sync.Mutex
	metaByID map[ItemID]*Metadata
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a board client for the given base URL
// (e.g. "https://yande.re").
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: "moeview/1.0",
		metaByID:  make(map[ItemID]*Metadata),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMetadata queries the post API for one item. Results are memoized
// so a metadata lookup followed by FetchRange costs a single API call.
func (c *Client) FetchMetadata(ctx context.Context, id ItemID) (*Metadata, error) {
	c.mu.Lock()
	if meta, ok := c.metaByID[id]; ok {
		c.mu.Unlock()
		return meta, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/post.json?tags=id:%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}

	var posts []post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("failed to decode post list: %w", err)
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}

	meta := metadataFromPost(&posts[0])

	c.mu.Lock()
	c.metaByID[id] = meta
	c.mu.Unlock()

	logger.Debug("fetched metadata",
		logger.KeyItemID, int64(id),
		logger.KeyKind, meta.Kind.String(),
		logger.KeySize, meta.Size)

	return meta, nil
}

// FetchMetadataBatch fetches metadata for several items in parallel,
// bounded by maxParallel goroutines. Items that fail lookup are omitted
// from the result; the first error encountered cancels the remainder.
func (c *Client) FetchMetadataBatch(ctx context.Context, ids []ItemID, maxParallel int) ([]*Metadata, error) {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	var mu sync.Mutex
	results := make([]*Metadata, 0, len(ids))

	p := pool.New().WithMaxGoroutines(maxParallel).WithContext(ctx).WithCancelOnError()
	for _, id := range ids {
		id := id // per-iteration copy: module builds with go 1.21 semantics
		p.Go(func(ctx context.Context) error {
			meta, err := c.FetchMetadata(ctx, id)
			if err != nil {
				if IsNotFound(err) {
					return nil
				}
				return err
			}
			mu.Lock()
			results = append(results, meta)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// Search lists posts matching a tag query, newest first, one page at a
// time. An empty tags string lists the board's front page. Metadata for
// every returned post is memoized for later FetchRange calls.
func (c *Client) Search(ctx context.Context, tags string, page, limit int) ([]*Metadata, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 40
	}

	u := fmt.Sprintf("%s/post.json?page=%d&limit=%d", c.baseURL, page, limit)
	if tags != "" {
		u += "&tags=" + url.QueryEscape(tags)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: u}
	}

	var posts []post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("failed to decode post list: %w", err)
	}

	results := make([]*Metadata, 0, len(posts))
	c.mu.Lock()
	for i := range posts {
		meta := metadataFromPost(&posts[i])
		c.metaByID[meta.ID] = meta
		results = append(results, meta)
	}
	c.mu.Unlock()

	logger.Debug("searched posts",
		"tags", tags,
		"page", page,
		logger.KeyCount, len(results))

	return results, nil
}

// FetchRange opens the binary content of an item starting at the given
// byte offset. It resolves the download URL through FetchMetadata, then
// issues a ranged GET. The board's CDN answers 206 when it honors the
// range, 200 when it serves the whole file anyway, and 416 when the
// offset is at or past the end of the file.
func (c *Client) FetchRange(ctx context.Context, id ItemID, start int64) (*RangeResult, error) {
	meta, err := c.FetchMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.FileURL == "" {
		return nil, fmt.Errorf("post %d has no file URL: %w", id, ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.FileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if start > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(start, 10)+"-")
	}

	logger.Debug("requesting content",
		logger.KeyItemID, int64(id),
		logger.KeyURL, meta.FileURL,
		logger.KeyOffset, start)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content request failed: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total := start
		if resp.ContentLength > 0 {
			total = start + resp.ContentLength
		}
		return &RangeResult{Body: resp.Body, Start: start, TotalSize: total}, nil

	case http.StatusOK:
		// Server ignored the range; the caller restarts from zero.
		return &RangeResult{Body: resp.Body, Start: 0, TotalSize: resp.ContentLength}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		if start > 0 {
			// Offset equals the file length: everything is already fetched.
			logger.Debug("range past end, content already complete",
				logger.KeyItemID, int64(id),
				logger.KeyOffset, start)
			return &RangeResult{Start: start, TotalSize: start, Complete: true}, nil
		}
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: meta.FileURL}

	default:
		_ = resp.Body.Close()
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: meta.FileURL}
	}
}
