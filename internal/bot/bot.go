package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"referral-bot/internal/database"
	"referral-bot/internal/dedup"
	"referral-bot/internal/referral"
)

const handlerStopTimeout = 10 * time.Second

const (
	msgRegisterFailed = "❌ Could not register you right now. Please send /start again."
	msgCountFailed    = "❌ Could not load your referral count. Please try again."
	msgReferFailed    = "❌ Could not create your invite link. Please try again."
	msgSchemaFailed   = "❌ Could not read the table layout. Please try again."
)

type Bot struct {
	Instance  *telego.Bot
	Referrals *referral.Service
	Store     *database.Store
	Guard     dedup.Guard
	Logger    *zap.Logger

	username string
}

func NewBot(token string, referrals *referral.Service, store *database.Store, guard dedup.Guard, logger *zap.Logger) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:  tgBot,
		Referrals: referrals,
		Store:     store,
		Guard:     guard,
		Logger:    logger,
	}, nil
}

// Start long-polls until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.Instance.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	b.username = me.Username

	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	handler.Use(b.skipDuplicates)

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg.From == nil {
			return nil
		}
		b.send(ctx, msg.Chat.ID, b.startReply(ctx, *msg.From, msg.Text)...)
		return nil
	}, th.CommandEqual("start"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg.From == nil {
			return nil
		}
		b.send(ctx, msg.Chat.ID, b.referReply(msg.From.ID))
		return nil
	}, th.CommandEqual("refer"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		msg := update.Message
		if msg.From == nil {
			return nil
		}
		b.send(ctx, msg.Chat.ID, b.countReply(ctx, msg.From.ID))
		return nil
	}, th.CommandEqual("count"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		b.send(ctx, update.Message.Chat.ID, b.schemaReply(ctx))
		return nil
	}, th.CommandEqual("schema"))

	// Stop waits for running handlers so the caller can close the store afterwards.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), handlerStopTimeout)
		defer cancel()
		if err := handler.StopWithContext(stopCtx); err != nil {
			b.Logger.Warn("bot handler did not stop cleanly", zap.Error(err))
		}
	}()

	b.Logger.Info("bot started", zap.String("username", b.username))
	err = handler.Start()
	if ctx.Err() == nil {
		return err
	}
	<-stopped
	b.Logger.Info("bot stopped")
	return err
}

func (b *Bot) skipDuplicates(ctx *th.Context, update telego.Update) error {
	if !b.firstDelivery(ctx, update.UpdateID) {
		return nil
	}
	return ctx.Next(update)
}

// firstDelivery reports whether updateID has not been handled yet. Guard failures let the update through.
func (b *Bot) firstDelivery(ctx context.Context, updateID int) bool {
	if b.Guard == nil {
		return true
	}
	first, err := b.Guard.Claim(ctx, updateID)
	if err != nil {
		b.Logger.Warn("update guard unavailable", zap.Int("update_id", updateID), zap.Error(err))
		return true
	}
	if !first {
		b.Logger.Debug("duplicate update skipped", zap.Int("update_id", updateID))
	}
	return first
}

func (b *Bot) send(ctx context.Context, chatID int64, texts ...string) {
	for _, text := range texts {
		_, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(chatID), text).
			WithParseMode(telego.ModeHTML).
			WithReplyMarkup(mainKeyboard()))
		if err != nil {
			b.Logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
}

func mainKeyboard() *telego.ReplyKeyboardMarkup {
	return tu.Keyboard(
		tu.KeyboardRow(
			tu.KeyboardButton("/refer"),
			tu.KeyboardButton("/count"),
			tu.KeyboardButton("/schema"),
		),
	).WithResizeKeyboard()
}

func (b *Bot) startReply(ctx context.Context, from telego.User, text string) []string {
	referrerID := referral.ParseReferrer(startPayload(text), from.ID)
	res, err := b.Referrals.Register(ctx, referral.Registration{
		UserID:      from.ID,
		DisplayName: fullName(from),
		Handle:      from.Username,
		ReferrerID:  referrerID,
	})
	if err != nil {
		b.Logger.Error("start handler failed", zap.Int64("user_id", from.ID), zap.Error(err))
		return []string{msgRegisterFailed}
	}

	var replies []string
	if res.ReferralRecorded {
		replies = append(replies, fmt.Sprintf("🎉 You joined through user <code>%d</code>!", *referrerID))
	}
	replies = append(replies, fmt.Sprintf("👋 Hello, <b>%s</b>!", html.EscapeString(greetingName(from))))
	return replies
}

func (b *Bot) referReply(userID int64) string {
	if b.username == "" {
		return msgReferFailed
	}
	return fmt.Sprintf("🧾 Your referral link:\n%s", referralLink(b.username, userID))
}

func (b *Bot) countReply(ctx context.Context, userID int64) string {
	count, err := b.Referrals.ReferralCount(ctx, userID)
	if err != nil {
		b.Logger.Error("count handler failed", zap.Int64("user_id", userID), zap.Error(err))
		return msgCountFailed
	}
	return fmt.Sprintf("📈 %d people signed up through you.", count)
}

func (b *Bot) schemaReply(ctx context.Context) string {
	columns, err := database.DescribeUsers(ctx, b.Store.DB(ctx))
	if err != nil {
		b.Logger.Error("schema handler failed", zap.Error(err))
		return msgSchemaFailed
	}
	return formatSchema(columns)
}

// startPayload returns the deep-link argument of a "/start <payload>" message.
func startPayload(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func referralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, referral.Payload(userID))
}

func fullName(u telego.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func greetingName(u telego.User) string {
	if name := fullName(u); name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return "friend"
}

func formatSchema(columns []database.Column) string {
	var sb strings.Builder
	sb.WriteString("<b>users</b> table:\n")
	for _, c := range columns {
		nullable := "NOT NULL"
		if c.Nullable {
			nullable = "NULL"
		}
		def := "None"
		if c.Default != "" {
			def = c.Default
		}
		fmt.Fprintf(&sb, "- %s (%s) %s Default=%s\n",
			html.EscapeString(c.Name), html.EscapeString(strings.ToLower(c.Type)), nullable, html.EscapeString(def))
	}
	return sb.String()
}
