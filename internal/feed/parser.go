package feed

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"feedsync/internal/domain"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const categoriesSeparator = ", "

// Parser turns feed documents into raw field records. Every non-empty
// gofeed value becomes a named field; empty values are left absent.
type Parser struct {
	libParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{libParser: gofeed.NewParser()}
}

func (p *Parser) Parse(body []byte) (domain.RawFeed, error) {
	parsed, err := p.libParser.Parse(bytes.NewReader(body))
	if err != nil {
		return domain.RawFeed{}, fmt.Errorf("parse document: %w", err)
	}

	raw := domain.RawFeed{
		Title:   strings.TrimSpace(parsed.Title),
		Channel: channelFields(parsed),
		Items:   make([]domain.RawItem, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		raw.Items = append(raw.Items, itemFields(item))
	}

	return raw, nil
}

func channelFields(f *gofeed.Feed) domain.RawItem {
	fields := make(domain.RawItem)

	set(fields, "title", f.Title)
	set(fields, "description", f.Description)
	set(fields, "link", firstNonEmpty(f.Link, firstOf(f.Links)))
	set(fields, "feedLink", f.FeedLink)
	set(fields, "language", f.Language)
	set(fields, "copyright", f.Copyright)
	set(fields, "generator", f.Generator)
	set(fields, "published", timeField(f.PublishedParsed, f.Published))
	set(fields, "updated", timeField(f.UpdatedParsed, f.Updated))
	set(fields, "categories", strings.Join(f.Categories, categoriesSeparator))
	set(fields, "author", personName(f.Author, f.Authors))

	if f.Image != nil {
		set(fields, "image", f.Image.URL)
	}

	addCustom(fields, f.Custom)
	addExtensions(fields, f.Extensions)

	return fields
}

func itemFields(item *gofeed.Item) domain.RawItem {
	fields := make(domain.RawItem)

	guid := strings.TrimSpace(item.GUID)
	set(fields, "identifier", guid)
	set(fields, "guid", guid)
	set(fields, "title", item.Title)
	set(fields, "description", item.Description)
	set(fields, "content", item.Content)
	set(fields, "link", strings.TrimSpace(firstNonEmpty(item.Link, firstOf(item.Links))))
	set(fields, "author", personName(item.Author, item.Authors))
	set(fields, "published", timeField(item.PublishedParsed, item.Published))
	set(fields, "updated", timeField(item.UpdatedParsed, item.Updated))
	set(fields, "categories", strings.Join(item.Categories, categoriesSeparator))

	if item.Author != nil {
		set(fields, "authorEmail", item.Author.Email)
	}

	if item.Image != nil {
		set(fields, "image", item.Image.URL)
	}

	if len(item.Enclosures) > 0 && item.Enclosures[0] != nil {
		set(fields, "enclosure", item.Enclosures[0].URL)
	}

	addCustom(fields, item.Custom)
	addExtensions(fields, item.Extensions)

	return fields
}

// addCustom copies custom elements without shadowing the well-known fields.
func addCustom(fields domain.RawItem, custom map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(custom)) {
		if _, ok := fields[k]; ok {
			continue
		}
		set(fields, k, custom[k])
	}
}

// addExtensions exposes namespaced elements as "prefix:name" fields, e.g.
// "dc:creator" or "media:title". Only the first element of each name is used.
func addExtensions(fields domain.RawItem, extensions ext.Extensions) {
	for prefix, elements := range extensions {
		for name, values := range elements {
			if len(values) == 0 {
				continue
			}
			set(fields, prefix+":"+name, extensionValue(values[0]))
		}
	}
}

func extensionValue(e ext.Extension) string {
	if v := strings.TrimSpace(e.Value); v != "" {
		return v
	}

	for _, attr := range []string{"url", "href"} {
		if v := strings.TrimSpace(e.Attrs[attr]); v != "" {
			return v
		}
	}

	return ""
}

func personName(author *gofeed.Person, authors []*gofeed.Person) string {
	if author != nil && strings.TrimSpace(author.Name) != "" {
		return author.Name
	}

	for _, a := range authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return a.Name
		}
	}

	return ""
}

func timeField(parsed *time.Time, raw string) string {
	if parsed != nil {
		return parsed.UTC().Format(time.RFC3339)
	}

	return raw
}

func set(fields domain.RawItem, name string, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fields[name] = value
}

func firstOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
