// Widgetsync - Third-Party Data Synchronization Engine for Signage Widgets
// Copyright 2026 SignageHub
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/signagehub/widgetsync

package fetch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// FetcherRSS is the registry name of the RSS/Atom fetcher.
const FetcherRSS = "rss"

// RSSFetcher pulls an RSS 2.0 or Atom feed and normalizes it into the
// widget item list shape. Feeds are public sources; no credentials apply.
type RSSFetcher struct {
	client   *http.Client
	maxBody  int64
	maxItems int
}

// NewRSSFetcher creates an RSS fetcher. maxItems is the fetch-time item
// ceiling; per-widget truncation happens at serve time.
func NewRSSFetcher(client *http.Client, maxBody int64, maxItems int) *RSSFetcher {
	return &RSSFetcher{client: client, maxBody: maxBody, maxItems: maxItems}
}

// FeedItem is one normalized feed entry.
type FeedItem struct {
	Title     string `json:"title"`
	Link      string `json:"link,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
}

// FeedData is the cached payload shape for feed-backed widgets.
type FeedData struct {
	Title string     `json:"title,omitempty"`
	Items []FeedItem `json:"items"`
}

// rssDocument covers the RSS 2.0 elements widgets render.
type rssDocument struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Link        string `xml:"link"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// atomDocument covers the Atom elements widgets render.
type atomDocument struct {
	Title   string `xml:"title"`
	Entries []struct {
		Title string `xml:"title"`
		Links []struct {
			Rel  string `xml:"rel,attr"`
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Summary string `xml:"summary"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

// Fetch implements Fetcher. The feed URL comes from the instance's
// feed_url option, falling back to the integration's pull endpoint.
func (f *RSSFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	feedURL := optionString(req.Options, "feed_url")
	if feedURL == "" {
		feedURL = req.Endpoint
	}
	if feedURL == "" {
		return nil, &PayloadError{Reason: "no feed URL configured"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, upstreamError(resp)
	}

	body, err := readBody(resp, f.maxBody)
	if err != nil {
		return nil, err
	}

	feed, err := parseFeed(body)
	if err != nil {
		return nil, err
	}
	if len(feed.Items) > f.maxItems {
		feed.Items = feed.Items[:f.maxItems]
	}

	data, err := json.Marshal(feed)
	if err != nil {
		return nil, &PayloadError{Reason: "encode feed", Err: err}
	}
	return &Result{Data: data}, nil
}

// parseFeed tries RSS 2.0 first, then Atom.
func parseFeed(body []byte) (*FeedData, error) {
	var rss rssDocument
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		feed := &FeedData{Title: rss.Channel.Title, Items: make([]FeedItem, 0, len(rss.Channel.Items))}
		for _, item := range rss.Channel.Items {
			feed.Items = append(feed.Items, FeedItem{
				Title:     strings.TrimSpace(item.Title),
				Link:      strings.TrimSpace(item.Link),
				Summary:   strings.TrimSpace(item.Description),
				Published: normalizeFeedTime(item.PubDate),
			})
		}
		return feed, nil
	}

	var atom atomDocument
	if err := xml.Unmarshal(body, &atom); err == nil && len(atom.Entries) > 0 {
		feed := &FeedData{Title: atom.Title, Items: make([]FeedItem, 0, len(atom.Entries))}
		for _, entry := range atom.Entries {
			link := ""
			for _, l := range entry.Links {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			feed.Items = append(feed.Items, FeedItem{
				Title:     strings.TrimSpace(entry.Title),
				Link:      link,
				Summary:   strings.TrimSpace(entry.Summary),
				Published: normalizeFeedTime(entry.Updated),
			})
		}
		return feed, nil
	}

	return nil, &PayloadError{Reason: "body is neither RSS 2.0 nor Atom"}
}

// feedTimeFormats lists timestamp layouts seen in real feeds.
var feedTimeFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"Mon, 2 Jan 2006 15:04:05 -0700",
}

// normalizeFeedTime converts a feed timestamp to RFC 3339. Unparseable
// values pass through untouched; a bad date should not drop the item.
func normalizeFeedTime(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, layout := range feedTimeFormats {
		if at, err := time.Parse(layout, raw); err == nil {
			return at.UTC().Format(time.RFC3339)
		}
	}
	return raw
}
