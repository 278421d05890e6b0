package domain

import "time"

// PostedItem records that an external item has been announced to the feed.
// A row exists iff the item was posted at least once; rows are never deleted.
type PostedItem struct {
	ItemID     string
	PostCount  int
	LastPostAt time.Time
}

// NewPostedItem creates the record for an item's first post.
func NewPostedItem(itemID string, now time.Time) *PostedItem {
	return &PostedItem{ItemID: itemID, PostCount: 1, LastPostAt: now}
}

// Suppressed returns true if the item must not be posted again: it was last
// posted within the expiry window and has already hit the repeat ceiling.
// Once the window has elapsed the item becomes postable again regardless of
// its count.
func (p *PostedItem) Suppressed(now time.Time, maxRepeat int, expiry time.Duration) bool {
	return now.Sub(p.LastPostAt) < expiry && p.PostCount >= maxRepeat
}
