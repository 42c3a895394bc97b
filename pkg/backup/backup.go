package backup

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ailayologylab/threads-analytics-public/pkg/models"
)

// dateLayouts covers the formats the backup has been written with over time.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}

// Store reads and writes the local CSV backup of collected posts.
type Store struct {
	path   string
	logger *log.Logger
}

func New(path string, logger *log.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the backup file location.
func (s *Store) Path() string {
	return s.path
}

// LatestPostDate returns the newest post_date in the backup. A missing file,
// an empty file, or a file without a post_date column all yield a zero time
// so the caller falls back to a full fetch.
func (s *Store) LatestPostDate() (time.Time, error) {
	records, header, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	if header == nil {
		return time.Time{}, nil
	}

	dateCol := -1
	for i, name := range header {
		if name == "post_date" {
			dateCol = i
			break
		}
	}
	if dateCol < 0 {
		s.logger.Warn("backup has no post_date column", "path", s.path)
		return time.Time{}, nil
	}

	var latest time.Time
	for _, record := range records {
		if dateCol >= len(record) {
			continue
		}
		date, ok := parseDate(record[dateCol])
		if !ok {
			continue
		}
		if date.After(latest) {
			latest = date
		}
	}
	return latest, nil
}

// Merge folds freshly collected posts into the backup. Existing rows with
// the same post_id are replaced by the new data, and the result is sorted by
// post date, newest first. Returns the total row count after the merge.
func (s *Store) Merge(posts []models.Post) (int, error) {
	existing, err := s.Posts()
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(posts))
	merged := make([]models.Post, 0, len(posts)+len(existing))
	for _, p := range posts {
		seen[p.PostID] = true
		merged = append(merged, p)
	}
	for _, p := range existing {
		if !seen[p.PostID] {
			merged = append(merged, p)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].PostDate.After(merged[j].PostDate)
	})

	if err := s.write(merged); err != nil {
		return 0, err
	}
	s.logger.Info("backup updated", "path", s.path, "total", len(merged))
	return len(merged), nil
}

// Posts parses the backup into typed posts. Rows that fail to parse are
// skipped with a warning.
func (s *Store) Posts() ([]models.Post, error) {
	records, header, err := s.read()
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, nil
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}

	posts := make([]models.Post, 0, len(records))
	for i, record := range records {
		post, err := parseRecord(cols, record)
		if err != nil {
			s.logger.Warn("skipping unparsable backup row", "row", i+2, "error", err)
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (s *Store) read() (records [][]string, header []string, err error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("opening backup: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading backup: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	header = trimBOM(rows[0])
	return rows[1:], header, nil
}

func (s *Store) write(posts []models.Post) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("creating backup: %w", err)
	}
	defer f.Close()

	// BOM keeps Excel happy with non-ASCII content
	if _, err := f.WriteString("\uFEFF"); err != nil {
		return fmt.Errorf("writing backup: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(models.Header()); err != nil {
		return fmt.Errorf("writing backup header: %w", err)
	}
	for i := range posts {
		if err := w.Write(posts[i].Record()); err != nil {
			return fmt.Errorf("writing backup row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func parseRecord(cols map[string]int, record []string) (models.Post, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	date, ok := parseDate(get("post_date"))
	if !ok {
		return models.Post{}, fmt.Errorf("bad post_date %q", get("post_date"))
	}

	post := models.Post{
		PostID:    get("post_id"),
		Shortcode: get("shortcode"),
		PostDate:  date,
		Content:   get("content"),
		MediaType: get("media_type"),
		Permalink: get("permalink"),
	}
	if post.PostID == "" {
		return models.Post{}, fmt.Errorf("missing post_id")
	}
	post.IsQuote, _ = strconv.ParseBool(get("is_quote"))
	post.Views = atoi(get("views"))
	post.Likes = atoi(get("likes"))
	post.Replies = atoi(get("replies"))
	post.Reposts = atoi(get("reposts"))
	post.Quotes = atoi(get("quotes"))
	post.Shares = atoi(get("shares"))
	return post, nil
}

func parseDate(value string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if date, err := time.Parse(layout, value); err == nil {
			return date, true
		}
	}
	return time.Time{}, false
}

func atoi(value string) int {
	n, _ := strconv.Atoi(value)
	return n
}

func trimBOM(header []string) []string {
	if len(header) > 0 && len(header[0]) >= 3 && header[0][:3] == "\xef\xbb\xbf" {
		header[0] = header[0][3:]
	}
	return header
}
