package nicovideo

import (
	"sort"
	"time"
)

const watchURL = "https://www.nicovideo.jp/watch/"

// Video is one search result, optionally carrying fetched comments.
type Video struct {
	ID            string
	Title         string
	Description   string
	Length        string
	FirstRetrieve time.Time
	ViewCount     int
	MylistCount   int
	CommentCount  int
	ThumbnailURL  string
	Comments      []Comment
}

// URL returns the public watch page for the video.
func (v *Video) URL() string { return watchURL + v.ID }

// LatestComments returns the n most recent comments in posting order.
func (v *Video) LatestComments(n int) []Comment {
	sorted := make([]Comment, len(v.Comments))
	copy(sorted, v.Comments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PostedAt.Before(sorted[j].PostedAt)
	})
	if n >= len(sorted) {
		return sorted
	}
	return sorted[len(sorted)-n:]
}

// Comment is a single viewer comment on a video. PlayPos is the playback
// position the comment appears at, rendered MM:SS.
type Comment struct {
	Text     string
	PlayPos  string
	PostedAt time.Time
}
