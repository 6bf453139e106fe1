package types

// FeedItem is one published alert. The JSON keys match the items.json history
// file written by earlier versions of the job.
type FeedItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	GUID        string `json:"guid"`
	PubDate     string `json:"pubDate"`
}

// RunState is everything carried from one invocation to the next.
type RunState struct {
	AlertActive bool
	Items       []FeedItem
}

// PrependItem returns items with item at the front, truncated to max entries.
// A max below 1 keeps only the new item.
func PrependItem(items []FeedItem, item FeedItem, max int) []FeedItem {
	out := make([]FeedItem, 0, len(items)+1)
	out = append(out, item)
	out = append(out, items...)
	return TruncateItems(out, max)
}

// TruncateItems keeps the first max entries (newest first).
func TruncateItems(items []FeedItem, max int) []FeedItem {
	if max < 1 {
		max = 1
	}
	if len(items) > max {
		return items[:max]
	}
	return items
}
