package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ailayologylab/threads-analytics-public/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "threads_data.csv"), log.Default())
}

func post(id string, date time.Time, likes int) models.Post {
	return models.Post{
		PostID:   id,
		PostDate: date,
		Content:  "content of " + id,
		Insights: models.Insights{Views: 100, Likes: likes},
	}
}

func TestLatestPostDateMissingFile(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.LatestPostDate()
	if err != nil {
		t.Fatalf("LatestPostDate failed: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("latest = %v, want zero time", latest)
	}
}

func TestMergeAndLatestPostDate(t *testing.T) {
	store := newTestStore(t)
	day := func(d int) time.Time {
		return time.Date(2025, 3, d, 12, 0, 0, 0, time.UTC)
	}

	if _, err := store.Merge([]models.Post{post("a", day(10), 1), post("b", day(12), 2)}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	latest, err := store.LatestPostDate()
	if err != nil {
		t.Fatalf("LatestPostDate failed: %v", err)
	}
	if !latest.Equal(day(12)) {
		t.Errorf("latest = %v, want %v", latest, day(12))
	}

	// Merge newer data: b is replaced, c is new
	total, err := store.Merge([]models.Post{post("b", day(12), 99), post("c", day(14), 3)})
	if err != nil {
		t.Fatalf("second Merge failed: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	posts, err := store.Posts()
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	// Sorted newest first
	if posts[0].PostID != "c" || posts[1].PostID != "b" || posts[2].PostID != "a" {
		t.Errorf("order = %s, %s, %s", posts[0].PostID, posts[1].PostID, posts[2].PostID)
	}
	// New record wins the dedupe
	if posts[1].Likes != 99 {
		t.Errorf("b.Likes = %d, want 99", posts[1].Likes)
	}
}

func TestRoundTripQuoting(t *testing.T) {
	store := newTestStore(t)
	tricky := models.Post{
		PostID:   "x",
		PostDate: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		Content:  "line one\nline two, with commas and \"quotes\"",
	}
	if _, err := store.Merge([]models.Post{tricky}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	posts, err := store.Posts()
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 1 || posts[0].Content != tricky.Content {
		t.Errorf("content round-trip failed: %q", posts[0].Content)
	}
}

func TestSkipsUnparsableRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "threads_data.csv")
	content := strings.Join([]string{
		strings.Join(models.Header(), ","),
		"good,sc,2025-03-01T08:00:00Z,hi,false,TEXT_POST,link,1,2,3,4,5,6,20,0.5",
		"bad,sc,not-a-date,hi,false,TEXT_POST,link,1,2,3,4,5,6,20,0.5",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	store := New(path, log.Default())
	posts, err := store.Posts()
	if err != nil {
		t.Fatalf("Posts failed: %v", err)
	}
	if len(posts) != 1 || posts[0].PostID != "good" {
		t.Errorf("posts = %+v, want only the good row", posts)
	}
}

func TestLatestPostDateNoDateColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads_data.csv")
	if err := os.WriteFile(path, []byte("post_id,content\na,b\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	store := New(path, log.Default())
	latest, err := store.LatestPostDate()
	if err != nil {
		t.Fatalf("LatestPostDate failed: %v", err)
	}
	if !latest.IsZero() {
		t.Errorf("latest = %v, want zero time", latest)
	}
}
