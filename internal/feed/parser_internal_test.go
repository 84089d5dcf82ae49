package feed

import (
	"testing"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"
  xmlns:dc="http://purl.org/dc/elements/1.1/"
  xmlns:media="http://search.yahoo.com/mrss/">
  <channel>
    <title>Example Feed</title>
    <link>https://example.com/</link>
    <description>Channel description</description>
    <language>en</language>
    <item>
      <title>First</title>
      <link>https://example.com/1</link>
      <guid>g1</guid>
      <description>First description</description>
      <dc:creator>Jane</dc:creator>
      <media:title>Media headline</media:title>
      <headline>Custom headline</headline>
      <pubDate>Wed, 01 Jan 2025 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Second</title>
      <link>https://example.com/2</link>
    </item>
  </channel>
</rss>`

func TestParserParseRSS(t *testing.T) {
	raw, err := NewParser().Parse([]byte(sampleRSS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if raw.Title != "Example Feed" {
		t.Fatalf("unexpected feed title: %q", raw.Title)
	}

	if got := raw.Channel["description"]; got != "Channel description" {
		t.Fatalf("unexpected channel description: %q", got)
	}

	if got := raw.Channel["language"]; got != "en" {
		t.Fatalf("unexpected channel language: %q", got)
	}

	if len(raw.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(raw.Items))
	}

	first := raw.Items[0]
	want := map[string]string{
		"identifier":  "g1",
		"guid":        "g1",
		"title":       "First",
		"link":        "https://example.com/1",
		"description": "First description",
		"author":      "Jane",
		"dc:creator":  "Jane",
		"media:title": "Media headline",
		"headline":    "Custom headline",
		"published":   "2025-01-01T10:00:00Z",
	}
	for k, v := range want {
		if first[k] != v {
			t.Fatalf("expected field %q to be %q, got %q", k, v, first[k])
		}
	}

	second := raw.Items[1]
	if _, ok := second.Get("identifier"); ok {
		t.Fatalf("expected item without guid to have no identifier")
	}
	if _, ok := second.Get("content"); ok {
		t.Fatalf("expected item without content to have no content field")
	}
}

func TestParserParseInvalidDocument(t *testing.T) {
	if _, err := NewParser().Parse([]byte("definitely not a feed")); err == nil {
		t.Fatalf("expected parse error")
	}
}
