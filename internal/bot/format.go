package bot

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/mapping"
	"feedsync/internal/markdown"
	"feedsync/internal/source"

	"github.com/go-telegram/bot/models"
)

const (
	telegramMessageMaxLength = 4096

	entryTitleMaxRunes   = 200
	entrySnippetMaxRunes = 280
	keyboardRowSize      = 5
)

func formatSourceList(sources []*source.Source) string {
	if len(sources) == 0 {
		return "✖️ Feed list is empty\\. Send a feed URL to add one\\."
	}

	var message strings.Builder
	fmt.Fprintf(&message, "🔍 *Found %d feeds:*\n\n", len(sources))

	for i, s := range sources {
		feed := s.Feed()

		state := "never synced"
		if feed.LastUpdated != nil {
			state = "synced " + feed.LastUpdated.UTC().Format(time.DateTime) + " UTC"
			if !s.Cached() {
				state += ", stale"
			}
		}

		fmt.Fprintf(&message, "%d\\. %s \\(%s\\)\n", i+1, formatFeedLink(feed), escape(state))
	}

	return message.String()
}

func formatFeed(
	feed domain.Feed,
	maxAge time.Duration,
	timeToExpiry time.Duration,
	cfg mapping.Config,
) string {
	var message strings.Builder

	fmt.Fprintf(&message, "📌 *%s*\n\n", formatFeedLink(feed))
	fmt.Fprintf(&message, "Source: %s\n", escape(feed.URL))

	lastUpdated := "never"
	if feed.LastUpdated != nil {
		lastUpdated = feed.LastUpdated.UTC().Format(time.DateTime) + " UTC"
	}
	fmt.Fprintf(&message, "Last synced: %s\n", escape(lastUpdated))
	fmt.Fprintf(&message, "Max age: %s\n", escape(maxAge.String()))
	fmt.Fprintf(&message, "Expires in: %s\n", escape(timeToExpiry.Round(time.Second).String()))

	if !cfg.IsZero() {
		fmt.Fprintf(&message, "Mapping: `%s`\n", escapeCode(cfg.String()))
	}

	return message.String()
}

// formatEntries renders entries as bullet points, split into messages that
// fit the Telegram length limit.
func formatEntries(feed domain.Feed, entries []domain.Entry) []string {
	header := fmt.Sprintf("📰 *%s*\n\n", escape(feedTitle(feed)))
	continueHeader := fmt.Sprintf("📰 *%s \\(continue\\)*\n\n", escape(feedTitle(feed)))

	if len(entries) == 0 {
		return []string{header + "✖️ No entries\\."}
	}

	var messages []string
	var currentMessage strings.Builder

	currentMessage.WriteString(header)

	for _, e := range entries {
		bulletPoint := formatEntry(e)

		if currentMessage.Len()+len(bulletPoint) > telegramMessageMaxLength {
			messages = append(messages, currentMessage.String())
			currentMessage.Reset()
			currentMessage.WriteString(continueHeader)
		}

		currentMessage.WriteString(bulletPoint)
	}

	return append(messages, currentMessage.String())
}

func formatEntry(e domain.Entry) string {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = cmp.Or(e.Link, e.EntryID)
	}
	title = escape(markdown.Truncate(markdown.PlainText(title), entryTitleMaxRunes))

	var b strings.Builder

	if e.Link != "" {
		fmt.Fprintf(&b, "– [%s](%s)", title, escapeLinkURL(e.Link))
	} else {
		fmt.Fprintf(&b, "– %s", title)
	}

	if e.Author != "" {
		fmt.Fprintf(&b, " _%s_", escape(markdown.Truncate(e.Author, entryTitleMaxRunes)))
	}
	b.WriteString("\n")

	if snippet := markdown.Truncate(markdown.PlainText(e.Content), entrySnippetMaxRunes); snippet != "" {
		b.WriteString(escape(snippet))
		b.WriteString("\n")
	}

	b.WriteString("\n")

	return b.String()
}

func formatFeedLink(feed domain.Feed) string {
	link := cmp.Or(feed.Link, feed.URL)
	return fmt.Sprintf("[%s](%s)", escape(feedTitle(feed)), escapeLinkURL(link))
}

func formatSyncError(err error) string {
	switch {
	case errors.Is(err, domain.ErrFetch):
		return "❌ Feed could not be fetched\\."
	case errors.Is(err, domain.ErrParse):
		return "❌ Feed could not be parsed\\."
	case errors.Is(err, domain.ErrPersistence):
		return "❌ Feed could not be stored\\."
	default:
		return "❌ Failed\\."
	}
}

func entriesKeyboard(count int) [][]models.InlineKeyboardButton {
	var keyboard [][]models.InlineKeyboardButton

	for i := 1; i <= count; i += keyboardRowSize {
		var row []models.InlineKeyboardButton

		for j := i; j < i+keyboardRowSize && j <= count; j++ {
			n := strconv.Itoa(j)
			row = append(row, models.InlineKeyboardButton{
				Text:         "📰 " + n,
				CallbackData: entriesCallbackPrefix + n,
			})
		}

		keyboard = append(keyboard, row)
	}

	return keyboard
}

func feedTitle(feed domain.Feed) string {
	return cmp.Or(strings.TrimSpace(feed.Title), feed.URL)
}

func escape(s string) string {
	return markdown.EscapeV2(s)
}

// escapeLinkURL escapes the characters MarkdownV2 reserves inside the URL
// part of an inline link.
func escapeLinkURL(u string) string {
	return strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
}

// escapeCode escapes the characters MarkdownV2 reserves inside code spans.
func escapeCode(s string) string {
	return strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(s)
}
