package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"feedsync/internal/source"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const updateProcessingTimeout = 60 * time.Second

type Bot struct {
	api          *tgbot.Bot
	registry     *source.Registry
	allowedUsers []int64
	log          *slog.Logger
}

func New(
	token string,
	registry *source.Registry,
	allowedUsers []int64,
	log *slog.Logger,
) (*Bot, error) {
	b := &Bot{
		registry:     registry,
		allowedUsers: allowedUsers,
		log:          log,
	}

	api, err := tgbot.New(
		strings.TrimSpace(token),
		tgbot.WithDefaultHandler(b.handleText),
		tgbot.WithMiddlewares(b.allowedUsersMiddleware, b.timeoutMiddleware),
		tgbot.WithErrorsHandler(func(err error) {
			log.Error("Telegram API error",
				"error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create bot API: %w", err)
	}

	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypePrefix, b.handleStart)
	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/list", tgbot.MatchTypePrefix, b.handleList)
	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/add", tgbot.MatchTypePrefix, b.handleAdd)
	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/feed", tgbot.MatchTypePrefix, b.handleFeed)
	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/entries", tgbot.MatchTypePrefix, b.handleEntries)
	api.RegisterHandler(tgbot.HandlerTypeMessageText, "/map", tgbot.MatchTypePrefix, b.handleMap)
	api.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, entriesCallbackPrefix, tgbot.MatchTypePrefix, b.handleEntriesCallback)

	b.api = api

	return b, nil
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	b.log.InfoContext(ctx, "Bot is started")

	b.api.Start(ctx)

	b.log.InfoContext(ctx, "Bot context is done",
		"error", ctx.Err())
}

func (b *Bot) allowedUsersMiddleware(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, api *tgbot.Bot, update *models.Update) {
		user := updateUser(update)
		if user == nil {
			return
		}

		if !b.userAllowed(user.ID) {
			b.log.DebugContext(ctx, "User is not allowed",
				"userID", user.ID,
				"username", user.Username)

			return
		}

		next(ctx, api, update)
	}
}

func (b *Bot) timeoutMiddleware(next tgbot.HandlerFunc) tgbot.HandlerFunc {
	return func(ctx context.Context, api *tgbot.Bot, update *models.Update) {
		ctx, cancel := context.WithTimeout(ctx, updateProcessingTimeout)
		defer cancel()

		next(ctx, api, update)
	}
}

func (b *Bot) userAllowed(userID int64) bool {
	return len(b.allowedUsers) == 0 || slices.Contains(b.allowedUsers, userID)
}

func updateUser(update *models.Update) *models.User {
	switch {
	case update == nil:
		return nil
	case update.Message != nil:
		return update.Message.From
	case update.CallbackQuery != nil:
		return &update.CallbackQuery.From
	}

	return nil
}

// reply sends every message to chatID and reports failures together.
func (b *Bot) reply(ctx context.Context, chatID int64, messages ...string) error {
	var errs []error

	for _, message := range messages {
		if err := b.sendMessage(ctx, chatID, message, nil); err != nil {
			errs = append(errs, fmt.Errorf("send message: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (b *Bot) sendMessage(
	ctx context.Context,
	chatID int64,
	text string,
	keyboard [][]models.InlineKeyboardButton,
) error {
	normalizedText := strings.ToValidUTF8(text, "?")
	if normalizedText != text {
		b.log.WarnContext(ctx, "Message text had invalid UTF-8 and was normalized",
			"chatID", chatID,
			"originalLen", len(text),
			"normalizedLen", len(normalizedText))
	}

	params := &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   normalizedText,
		// See https://core.telegram.org/bots/api#markdownv2-style.
		ParseMode: models.ParseModeMarkdown,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: tgbot.True(),
		},
	}

	if len(keyboard) > 0 {
		params.ReplyMarkup = &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
	}

	_, err := b.api.SendMessage(ctx, params)

	return err
}

func (b *Bot) sendTyping(ctx context.Context, chatID int64) {
	_, err := b.api.SendChatAction(ctx, &tgbot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
	if err != nil {
		b.log.ErrorContext(ctx, "Failed to send chat action",
			"error", err,
			"chatID", chatID)
	}
}

const sendSpinnerInterval = 3 * time.Second

func (b *Bot) withSpinner(ctx context.Context, chatID int64, fn func() error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		b.sendTyping(ctx, chatID)

		t := time.NewTicker(sendSpinnerInterval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				b.sendTyping(ctx, chatID)
			}
		}
	}()

	return fn()
}
