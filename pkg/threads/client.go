package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/ailayologylab/threads-analytics-public/pkg/models"
)

const (
	// TimestampLayout matches the timestamp format returned by the Graph API.
	TimestampLayout = "2006-01-02T15:04:05-0700"

	pageSize          = 100
	insightsBatchSize = 10
	cacheTTL          = time.Hour
)

var (
	basicFields = strings.Join([]string{
		"id", "shortcode", "timestamp", "text", "is_quote_post", "media_type", "permalink",
	}, ",")
	metricNames = strings.Join([]string{
		"views", "likes", "replies", "reposts", "quotes", "shares",
	}, ",")
)

// Post is the raw post shape returned by the posts endpoint.
type Post struct {
	ID          string `json:"id"`
	Shortcode   string `json:"shortcode"`
	Timestamp   string `json:"timestamp"`
	Text        string `json:"text"`
	IsQuotePost bool   `json:"is_quote_post"`
	MediaType   string `json:"media_type"`
	Permalink   string `json:"permalink"`
}

// Profile is the authorized user's identity, used for credential checks.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PostsOptions controls a UserPosts call.
type PostsOptions struct {
	// Since restricts results to posts published on or after this date
	// (YYYY-MM-DD). Empty means full history.
	Since string
	// Max caps the number of posts returned. Zero means unlimited.
	Max int
}

// Client talks to the Threads Graph API on behalf of a single token.
type Client struct {
	httpClient *http.Client
	logger     *log.Logger
	baseURL    string
	token      string
	delay      time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	insights models.Insights
	fetched  time.Time
}

// New creates a client. delay is the pause inserted after every request as
// crude rate limiting; pass zero to disable.
func New(token, baseURL string, delay time.Duration, logger *log.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		delay:      delay,
		cache:      make(map[string]cacheEntry),
	}
}

// Me fetches the authorized user's profile with a single minimal call.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var profile Profile
	endpoint := c.baseURL + "/me?fields=id,username"
	if err := c.get(ctx, endpoint, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

type postsResponse struct {
	Data   []Post `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// UserPosts pages through me/threads until the history is exhausted, the
// since window is reached, or opts.Max posts are collected.
func (c *Client) UserPosts(ctx context.Context, opts PostsOptions) ([]Post, error) {
	params := url.Values{}
	params.Set("fields", basicFields)
	limit := pageSize
	if opts.Max > 0 && opts.Max < limit {
		limit = opts.Max
	}
	params.Set("limit", strconv.Itoa(limit))
	if opts.Since != "" {
		params.Set("since", opts.Since)
	}

	next := c.baseURL + "/me/threads?" + params.Encode()
	var all []Post

	c.logger.Info("fetching posts", "since", opts.Since, "max", opts.Max)

	for next != "" {
		var page postsResponse
		if err := c.get(ctx, next, &page); err != nil {
			return nil, fmt.Errorf("fetching posts page: %w", err)
		}
		c.logger.Debug("fetched page", "posts", len(page.Data))
		all = append(all, page.Data...)

		if opts.Max > 0 && len(all) >= opts.Max {
			all = all[:opts.Max]
			break
		}
		next = page.Paging.Next
	}

	c.logger.Info("fetched posts", "total", len(all))
	return all, nil
}

type insightsResponse struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int `json:"value"`
		} `json:"values"`
		TotalValue *struct {
			Value int `json:"value"`
		} `json:"total_value"`
	} `json:"data"`
}

func (r *insightsResponse) toInsights() models.Insights {
	var ins models.Insights
	for _, metric := range r.Data {
		value := 0
		if len(metric.Values) > 0 {
			value = metric.Values[0].Value
		} else if metric.TotalValue != nil {
			value = metric.TotalValue.Value
		}
		switch metric.Name {
		case "views":
			ins.Views = value
		case "likes":
			ins.Likes = value
		case "replies":
			ins.Replies = value
		case "reposts":
			ins.Reposts = value
		case "quotes":
			ins.Quotes = value
		case "shares":
			ins.Shares = value
		}
	}
	return ins
}

// PostInsights fetches metrics for each post, a bounded batch at a time.
// A post whose insights call fails reports zeroed metrics instead of
// aborting the whole run. Results are cached for an hour.
func (c *Client) PostInsights(ctx context.Context, ids []string) (map[string]models.Insights, error) {
	out := make(map[string]models.Insights, len(ids))
	var outMu sync.Mutex

	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if ins, ok := c.cached(id); ok {
			out[id] = ins
			continue
		}
		pending = append(pending, id)
	}
	if len(out) > 0 {
		c.logger.Debug("insights cache hits", "count", len(out))
	}

	for start := 0; start < len(pending); start += insightsBatchSize {
		end := start + insightsBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(insightsBatchSize)
		for _, id := range batch {
			id := id
			g.Go(func() error {
				ins, err := c.fetchInsights(gctx, id)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					c.logger.Warn("insights fetch failed, using zeroed metrics", "post_id", id, "error", err)
					ins = models.Insights{}
				} else {
					c.store(id, ins)
				}
				outMu.Lock()
				out[id] = ins
				outMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		c.logger.Debug("insights batch done", "processed", len(out), "total", len(ids))
	}

	return out, nil
}

func (c *Client) fetchInsights(ctx context.Context, postID string) (models.Insights, error) {
	endpoint := fmt.Sprintf("%s/%s/insights?metric=%s", c.baseURL, url.PathEscape(postID), metricNames)
	var resp insightsResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return models.Insights{}, err
	}
	return resp.toInsights(), nil
}

func (c *Client) cached(postID string) (models.Insights, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[postID]
	if !ok || time.Since(entry.fetched) > cacheTTL {
		return models.Insights{}, false
	}
	return entry.insights, true
}

func (c *Client) store(postID string, ins models.Insights) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[postID] = cacheEntry{insights: ins, fetched: time.Now()}
}

func (c *Client) get(ctx context.Context, rawURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("threads api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	}
	return nil
}
