package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/k0kubun/pp/v3"

	"github.com/ailayologylab/threads-analytics-public/pkg/backup"
	"github.com/ailayologylab/threads-analytics-public/pkg/models"
	"github.com/ailayologylab/threads-analytics-public/pkg/threads"
)

// Mode selects how much history a collection run fetches.
type Mode string

const (
	// ModeNormal fetches only posts newer than the latest backup entry.
	ModeNormal Mode = "normal"
	// ModeForce fetches the full post history.
	ModeForce Mode = "force"
	// ModeTest fetches a bounded number of posts for connectivity checks.
	ModeTest Mode = "test"

	defaultTestLimit = 50
)

// ParseMode validates a mode flag value.
func ParseMode(value string) (Mode, error) {
	switch Mode(value) {
	case ModeNormal, ModeForce, ModeTest:
		return Mode(value), nil
	}
	return "", fmt.Errorf("unknown mode %q (want normal, force or test)", value)
}

// Collector fetches posts from the Threads API, merges in their insights,
// and stores the batch as JSON under the data directory.
type Collector struct {
	client  *threads.Client
	backup  *backup.Store
	logger  *log.Logger
	dataDir string
	loc     *time.Location
}

func New(client *threads.Client, store *backup.Store, dataDir string, loc *time.Location, logger *log.Logger) *Collector {
	return &Collector{
		client:  client,
		backup:  store,
		logger:  logger,
		dataDir: dataDir,
		loc:     loc,
	}
}

// Collect runs one collection pass. limit only applies in test mode.
func (c *Collector) Collect(ctx context.Context, mode Mode, limit int) ([]models.Post, error) {
	opts, err := c.fetchOptions(mode, limit)
	if err != nil {
		return nil, err
	}

	raw, err := c.client.UserPosts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching posts: %w", err)
	}
	if len(raw) == 0 {
		c.logger.Info("no posts to process", "mode", mode)
		return nil, nil
	}

	ids := make([]string, len(raw))
	for i, p := range raw {
		ids[i] = p.ID
	}
	insights, err := c.client.PostInsights(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching insights: %w", err)
	}

	posts := make([]models.Post, 0, len(raw))
	for _, p := range raw {
		date, err := time.Parse(threads.TimestampLayout, p.Timestamp)
		if err != nil {
			c.logger.Warn("skipping post with bad timestamp", "post_id", p.ID, "timestamp", p.Timestamp)
			continue
		}
		posts = append(posts, models.Post{
			PostID:    p.ID,
			Shortcode: p.Shortcode,
			PostDate:  date.In(c.loc),
			Content:   p.Text,
			IsQuote:   p.IsQuotePost,
			MediaType: p.MediaType,
			Permalink: p.Permalink,
			Insights:  insights[p.ID],
		})
	}

	if len(posts) > 0 {
		c.logger.Debug("sample post", "post", pp.Sprint(posts[0]))
	}

	if err := c.save(posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// UpdateBackup folds the collected posts into the CSV backup. Used when the
// worksheet export is skipped, so incremental runs still see the new posts.
func (c *Collector) UpdateBackup(posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	_, err := c.backup.Merge(posts)
	return err
}

func (c *Collector) fetchOptions(mode Mode, limit int) (threads.PostsOptions, error) {
	var opts threads.PostsOptions

	switch mode {
	case ModeTest:
		if limit <= 0 {
			limit = defaultTestLimit
		}
		opts.Max = limit
		c.logger.Info("test mode", "limit", limit)

	case ModeForce:
		c.logger.Info("force mode, fetching full history")

	case ModeNormal:
		latest, err := c.backup.LatestPostDate()
		if err != nil {
			return opts, fmt.Errorf("reading backup: %w", err)
		}
		if latest.IsZero() {
			c.logger.Info("normal mode, no usable backup, fetching full history")
			break
		}
		opts.Since = latest.Format("2006-01-02")
		c.logger.Info("normal mode", "since", opts.Since)

	default:
		return opts, fmt.Errorf("unknown mode %q", mode)
	}

	return opts, nil
}

func (c *Collector) save(posts []models.Post) error {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding posts: %w", err)
	}

	path := filepath.Join(c.dataDir, "posts.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	c.logger.Info("saved posts", "path", path, "count", len(posts))
	return nil
}
