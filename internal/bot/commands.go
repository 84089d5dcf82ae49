package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"feedsync/internal/domain"
	"feedsync/internal/mapping"
	"feedsync/internal/source"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"mvdan.cc/xurls/v2"
)

const entriesCallbackPrefix = "entries_"

const welcomeText = `🤖 *Welcome to feedsync\!*

I keep syndicated feeds in sync\. I can help you:

– Add RSS / Atom / JSON feeds with /add or by sending URLs
– Get feed list with /list
– Show feed state with /feed \<n\>
– Show stored entries with /entries \<n\>
– Remap raw fields with /map \<n\> entries\.title\=headline`

const mapUsageText = `Usage: /map \<n\|URL\> title\=\<field\> entries\.\<identifier\|title\|author\|link\|content\>\=\<field\>`

func (b *Bot) handleStart(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, _ string) error {
		return b.reply(ctx, chatID, welcomeText)
	})
}

func (b *Bot) handleList(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, _ string) error {
		sources := b.registry.Sources()

		if err := b.sendMessage(ctx, chatID, formatSourceList(sources), entriesKeyboard(len(sources))); err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		return nil
	})
}

func (b *Bot) handleAdd(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, args string) error {
		return b.withSpinner(ctx, chatID, func() error {
			return b.addFeeds(ctx, chatID, args)
		})
	})
}

func (b *Bot) handleText(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	if update.Message == nil || strings.HasPrefix(update.Message.Text, "/") {
		return
	}

	b.handleCommand(ctx, update, func(chatID int64, _ string) error {
		return b.withSpinner(ctx, chatID, func() error {
			return b.addFeeds(ctx, chatID, update.Message.Text)
		})
	})
}

func (b *Bot) handleFeed(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, args string) error {
		s, err := b.lookupSource(args)
		if err != nil {
			return errors.Join(err, b.reply(ctx, chatID, "✖️ Feed is not found\\. See /list\\."))
		}

		return b.withSpinner(ctx, chatID, func() error {
			feed, syncErr := s.GetFeed(ctx)
			if syncErr != nil && !errors.Is(syncErr, domain.ErrMapping) {
				return errors.Join(syncErr, b.reply(ctx, chatID, formatSyncError(syncErr)))
			}

			return errors.Join(syncErr, b.reply(ctx, chatID, formatFeed(feed, s.MaxAge(), s.TimeToExpiry(), s.Mapping())))
		})
	})
}

func (b *Bot) handleEntries(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, args string) error {
		s, err := b.lookupSource(args)
		if err != nil {
			return errors.Join(err, b.reply(ctx, chatID, "✖️ Feed is not found\\. See /list\\."))
		}

		return b.withSpinner(ctx, chatID, func() error {
			return b.sendEntries(ctx, chatID, s)
		})
	})
}

func (b *Bot) handleEntriesCallback(ctx context.Context, api *tgbot.Bot, update *models.Update) {
	cq := update.CallbackQuery
	if cq == nil {
		return
	}

	if _, err := api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: cq.ID,
	}); err != nil {
		b.log.ErrorContext(ctx, "Failed to answer callback query",
			"error", err,
			"data", cq.Data)
	}

	if cq.Message.Message == nil {
		return
	}
	chatID := cq.Message.Message.Chat.ID

	s, err := b.lookupSource(strings.TrimPrefix(cq.Data, entriesCallbackPrefix))
	if err == nil {
		err = b.sendEntries(ctx, chatID, s)
	}

	if err != nil {
		b.log.ErrorContext(ctx, "Failed to handle callback query",
			"error", err,
			"chatID", chatID,
			"userID", cq.From.ID,
			"data", cq.Data)
	}
}

func (b *Bot) handleMap(ctx context.Context, _ *tgbot.Bot, update *models.Update) {
	b.handleCommand(ctx, update, func(chatID int64, args string) error {
		fields := strings.Fields(args)
		if len(fields) < 2 {
			return b.reply(ctx, chatID, mapUsageText)
		}

		s, err := b.lookupSource(fields[0])
		if err != nil {
			return errors.Join(err, b.reply(ctx, chatID, "✖️ Feed is not found\\. See /list\\."))
		}

		additional, err := mapping.Parse(fields[1:]...)
		if err != nil {
			return errors.Join(err, b.reply(ctx, chatID, mapUsageText))
		}

		merged, err := b.registry.ApplyMapping(ctx, s.URL(), additional)
		if err != nil {
			return errors.Join(err, b.reply(ctx, chatID, "❌ Failed\\."))
		}

		return b.reply(ctx, chatID, fmt.Sprintf("✅ Mapping is updated: `%s`\\. It applies on the next sync\\.",
			escapeCode(merged.String())))
	})
}

// handleCommand extracts the chat and command arguments and logs whatever
// the command fails with.
func (b *Bot) handleCommand(
	ctx context.Context,
	update *models.Update,
	fn func(chatID int64, args string) error,
) {
	if update.Message == nil {
		return
	}

	message := update.Message
	chatID := message.Chat.ID

	if err := fn(chatID, commandArgs(message.Text)); err != nil {
		b.log.ErrorContext(ctx, "Failed to handle message",
			"error", err,
			"chatID", chatID,
			"messageID", message.ID,
			"text", message.Text)
	}
}

func (b *Bot) addFeeds(ctx context.Context, chatID int64, text string) error {
	urls, err := findFeedURLs(text)
	if err != nil {
		return err
	}

	if len(urls) == 0 {
		return b.reply(ctx, chatID, "✖️ Valid feed URLs are not found\\.")
	}

	var (
		errs  []error
		lines []string
	)

	for _, u := range urls {
		s, openErr := b.registry.Open(ctx, u)
		if openErr != nil {
			errs = append(errs, fmt.Errorf("open source: %w", openErr))
			lines = append(lines, "❌ "+escape(u))

			continue
		}

		feed, syncErr := s.GetFeed(ctx)
		switch {
		case syncErr == nil:
			lines = append(lines, "✅ "+formatFeedLink(feed))
		case errors.Is(syncErr, domain.ErrMapping):
			lines = append(lines, "⚠️ "+formatFeedLink(feed)+" \\(some items skipped\\)")
		default:
			errs = append(errs, fmt.Errorf("sync source: %w", syncErr))
			lines = append(lines, "⚠️ "+escape(u)+" is added, but "+formatSyncError(syncErr))
		}
	}

	if err = b.reply(ctx, chatID, strings.Join(lines, "\n")); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (b *Bot) sendEntries(ctx context.Context, chatID int64, s *source.Source) error {
	entries, err := s.Entries(ctx)
	if err != nil && !errors.Is(err, domain.ErrMapping) {
		return errors.Join(err, b.reply(ctx, chatID, formatSyncError(err)))
	}

	return errors.Join(err, b.reply(ctx, chatID, formatEntries(s.Feed(), entries)...))
}

// lookupSource accepts the 1-based position from /list or a feed URL.
func (b *Bot) lookupSource(arg string) (*source.Source, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return nil, errors.New("feed is not specified")
	}

	if n, err := strconv.Atoi(arg); err == nil {
		sources := b.registry.Sources()
		if n < 1 || n > len(sources) {
			return nil, fmt.Errorf("feed number %d is out of range", n)
		}

		return sources[n-1], nil
	}

	if s, ok := b.registry.Get(arg); ok {
		return s, nil
	}

	return nil, fmt.Errorf("feed %q is not registered", arg)
}

func findFeedURLs(text string) ([]string, error) {
	re, err := xurls.StrictMatchingScheme("https?://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	var urls []string
	seen := make(map[string]struct{})

	for _, u := range re.FindAllString(text, -1) {
		u = strings.TrimSpace(u)
		if _, ok := seen[u]; ok {
			continue
		}

		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	return urls, nil
}

func commandArgs(text string) string {
	_, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(args)
}
