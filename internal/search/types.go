package search

import "time"

// Request is one search invocation as parsed from the read surface.
type Request struct {
	Query      string `json:"q"`
	EntityType string `json:"entityType,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// Result is one ranked row from the search index.
type Result struct {
	ID            int64                  `json:"id"`
	EntityType    string                 `json:"entityType"`
	EntityID      int64                  `json:"entityId"`
	PrimaryText   string                 `json:"primaryText"`
	SecondaryText string                 `json:"secondaryText,omitempty"`
	Slug          string                 `json:"slug,omitempty"`
	AuthorName    string                 `json:"authorName,omitempty"`
	BrandName     string                 `json:"brandName,omitempty"`
	FollowerCount int64                  `json:"followerCount"`
	LikeCount     int64                  `json:"likeCount"`
	CommentCount  int64                  `json:"commentCount"`
	ViewCount     int64                  `json:"viewCount"`
	Tags          []string               `json:"tags"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	FTSRank       float64                `json:"ftsRank"`
	TrigramRank   float64                `json:"trgmRank"`
}

// Page is a ranked page of results plus its continuation state.
type Page struct {
	Results    []Result `json:"results"`
	NextCursor string   `json:"nextCursor,omitempty"`
	Cached     bool     `json:"cached"`
	LatencyMS  int64    `json:"latencyMs"`
}
