// Package feed renders the RSS 2.0 alert document and writes it to the
// configured sinks. Every publish replaces the whole document.
package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"time"

	"qpfwatch/internal/notifications/core"
	"qpfwatch/internal/types"
)

// Channel holds the <channel> metadata.
type Channel struct {
	Title       string
	Link        string
	Description string
}

// ChannelFor derives the channel metadata from the alert configuration.
// titleOverride replaces the generated title when non-empty.
func ChannelFor(location string, threshold float64, titleOverride, link string) Channel {
	title := titleOverride
	if title == "" {
		title = fmt.Sprintf("%s - WPC 48h QPF Alerts (≥ %.2f\")", location, threshold)
	}
	return Channel{
		Title:       title,
		Link:        link,
		Description: fmt.Sprintf("Alerts whenever WPC indicates ≥ %.2f\" in any 48h window through Day 7.", threshold),
	}
}

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	GUID        rssGUID  `xml:"guid"`
	PubDate     string   `xml:"pubDate"`
	Description rssCDATA `xml:"description"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssCDATA struct {
	Text string `xml:",cdata"`
}

// Render builds the RSS document for the newest maxItems entries of items.
// items must already be ordered newest first.
func Render(ch Channel, items []types.FeedItem, maxItems int, built time.Time) ([]byte, error) {
	items = types.TruncateItems(items, maxItems)

	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         ch.Title,
			Link:          ch.Link,
			Description:   ch.Description,
			LastBuildDate: built.UTC().Format(core.PubDateLayout),
			Items:         make([]rssItem, 0, len(items)),
		},
	}
	for _, it := range items {
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:       it.Title,
			Link:        it.Link,
			GUID:        rssGUID{IsPermaLink: "false", Value: it.GUID},
			PubDate:     it.PubDate,
			Description: rssCDATA{Text: it.Description},
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal rss: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(xml.Header) + len(body) + 1)
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
