package models

import (
	"math"
	"strconv"
	"time"
)

// Insights holds the per-post metrics returned by the insights endpoint.
type Insights struct {
	Views   int `json:"views"`
	Likes   int `json:"likes"`
	Replies int `json:"replies"`
	Reposts int `json:"reposts"`
	Quotes  int `json:"quotes"`
	Shares  int `json:"shares"`
}

// Post is a single Threads post with its insights metrics merged in.
type Post struct {
	PostID    string    `json:"post_id"`
	Shortcode string    `json:"shortcode"`
	PostDate  time.Time `json:"post_date"`
	Content   string    `json:"content"`
	IsQuote   bool      `json:"is_quote"`
	MediaType string    `json:"media_type"`
	Permalink string    `json:"permalink"`
	Insights
}

// Engagement is the sum of all interaction metrics, views excluded.
func (p *Post) Engagement() int {
	return p.Likes + p.Replies + p.Reposts + p.Quotes + p.Shares
}

// EngagementRate is engagement over views, rounded to two decimals.
// Posts without view data report a rate of zero.
func (p *Post) EngagementRate() float64 {
	if p.Views <= 0 {
		return 0
	}
	rate := float64(p.Engagement()) / float64(p.Views)
	return math.Round(rate*100) / 100
}

// Header is the worksheet and CSV column order.
func Header() []string {
	return []string{
		"post_id", "shortcode", "post_date", "content", "is_quote",
		"media_type", "permalink", "views", "likes", "replies",
		"reposts", "quotes", "shares", "engagement", "engagement_rate",
	}
}

// SheetRow converts the post into a typed row for the Sheets API, in
// Header order.
func (p *Post) SheetRow() []interface{} {
	return []interface{}{
		p.PostID,
		p.Shortcode,
		p.PostDate.Format(time.RFC3339),
		p.Content,
		p.IsQuote,
		p.MediaType,
		p.Permalink,
		p.Views,
		p.Likes,
		p.Replies,
		p.Reposts,
		p.Quotes,
		p.Shares,
		p.Engagement(),
		p.EngagementRate(),
	}
}

// Record converts the post into a CSV record, in Header order.
func (p *Post) Record() []string {
	return []string{
		p.PostID,
		p.Shortcode,
		p.PostDate.Format(time.RFC3339),
		p.Content,
		strconv.FormatBool(p.IsQuote),
		p.MediaType,
		p.Permalink,
		strconv.Itoa(p.Views),
		strconv.Itoa(p.Likes),
		strconv.Itoa(p.Replies),
		strconv.Itoa(p.Reposts),
		strconv.Itoa(p.Quotes),
		strconv.Itoa(p.Shares),
		strconv.Itoa(p.Engagement()),
		strconv.FormatFloat(p.EngagementRate(), 'f', 2, 64),
	}
}
