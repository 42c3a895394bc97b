package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ailayologylab/threads-analytics-public/pkg/backup"
	"github.com/ailayologylab/threads-analytics-public/pkg/models"
	"github.com/ailayologylab/threads-analytics-public/pkg/threads"
)

type fixture struct {
	collector *Collector
	store     *backup.Store
	dataDir   string
	sinceSeen *string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var sinceSeen string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/threads", func(w http.ResponseWriter, r *http.Request) {
		sinceSeen = r.URL.Query().Get("since")
		fmt.Fprint(w, `{
			"data": [
				{"id": "p1", "shortcode": "s1", "timestamp": "2025-03-17T01:30:00+0000", "text": "newest"},
				{"id": "p2", "shortcode": "s2", "timestamp": "2025-03-16T01:30:00+0000", "text": "older"}
			],
			"paging": {}
		}`)
	})
	mux.HandleFunc("/p1/insights", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"name": "views", "values": [{"value": 40}]}, {"name": "likes", "values": [{"value": 4}]}]}`)
	})
	mux.HandleFunc("/p2/insights", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"name": "views", "total_value": {"value": 10}}]}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := log.Default()
	client := threads.New("token", srv.URL, 0, logger)
	dataDir := t.TempDir()
	store := backup.New(filepath.Join(dataDir, "threads_data.csv"), logger)
	loc := time.FixedZone("CST", 8*3600)

	return &fixture{
		collector: New(client, store, dataDir, loc, logger),
		store:     store,
		dataDir:   dataDir,
		sinceSeen: &sinceSeen,
	}
}

func TestCollectForceMode(t *testing.T) {
	f := newFixture(t)

	posts, err := f.collector.Collect(context.Background(), ModeForce, 0)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if *f.sinceSeen != "" {
		t.Errorf("force mode sent since=%q", *f.sinceSeen)
	}

	// Insights merged in
	if posts[0].Views != 40 || posts[0].Likes != 4 {
		t.Errorf("p1 insights = %+v", posts[0].Insights)
	}

	// Timestamps converted to the configured zone
	if zone, offset := posts[0].PostDate.Zone(); zone != "CST" || offset != 8*3600 {
		t.Errorf("p1 zone = %s/%d, want CST/+8h", zone, offset)
	}
	if posts[0].PostDate.Hour() != 9 {
		t.Errorf("p1 hour = %d, want 9 (01:30 UTC in +08:00)", posts[0].PostDate.Hour())
	}

	// posts.json written
	data, err := os.ReadFile(filepath.Join(f.dataDir, "posts.json"))
	if err != nil {
		t.Fatalf("reading posts.json: %v", err)
	}
	var saved []models.Post
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("posts.json is not valid json: %v", err)
	}
	if len(saved) != 2 || saved[0].PostID != "p1" {
		t.Errorf("posts.json content = %+v", saved)
	}
}

func TestCollectNormalModeUsesBackupDate(t *testing.T) {
	f := newFixture(t)

	seeded := models.Post{
		PostID:   "old",
		PostDate: time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC),
	}
	if _, err := f.store.Merge([]models.Post{seeded}); err != nil {
		t.Fatalf("seeding backup: %v", err)
	}

	if _, err := f.collector.Collect(context.Background(), ModeNormal, 0); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if *f.sinceSeen != "2025-03-10" {
		t.Errorf("since = %q, want 2025-03-10", *f.sinceSeen)
	}
}

func TestCollectNormalModeWithoutBackup(t *testing.T) {
	f := newFixture(t)

	if _, err := f.collector.Collect(context.Background(), ModeNormal, 0); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if *f.sinceSeen != "" {
		t.Errorf("since = %q, want empty (full fetch)", *f.sinceSeen)
	}
}

func TestCollectTestModeCapsPosts(t *testing.T) {
	f := newFixture(t)

	posts, err := f.collector.Collect(context.Background(), ModeTest, 1)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("got %d posts, want 1", len(posts))
	}
}

func TestUpdateBackup(t *testing.T) {
	f := newFixture(t)

	posts, err := f.collector.Collect(context.Background(), ModeForce, 0)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if err := f.collector.UpdateBackup(posts); err != nil {
		t.Fatalf("UpdateBackup failed: %v", err)
	}

	latest, err := f.store.LatestPostDate()
	if err != nil {
		t.Fatalf("LatestPostDate failed: %v", err)
	}
	want := time.Date(2025, 3, 17, 1, 30, 0, 0, time.UTC)
	if !latest.Equal(want) {
		t.Errorf("latest = %v, want %v", latest, want)
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"normal", "force", "test"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q) failed: %v", valid, err)
		}
	}
	if _, err := ParseMode("full"); err == nil {
		t.Error("ParseMode(full) should fail")
	}
}
