// Package telegrambot implements the chat-bot front end: it maps each
// Telegram chat to a session id, applies an allow-list/admin access model
// and a per-chat cooldown, bridges the scheduler's synchronous approval
// callback to Telegram's inline-button callback-query events, and chunks
// long replies.
package telegrambot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gtbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/kaiho/agentloop/internal/budget"
	"github.com/kaiho/agentloop/internal/config"
	"github.com/kaiho/agentloop/internal/eventlog"
	"github.com/kaiho/agentloop/internal/policy"
	"github.com/kaiho/agentloop/internal/provider"
	"github.com/kaiho/agentloop/internal/scheduler"
	"github.com/kaiho/agentloop/internal/session"
)

const maxMessageChars = 3500

// Bot wires the scheduler, session store, and registry behind the Telegram
// transport. One Bot serves every chat; the scheduler holds no per-run
// state, so each incoming message runs its own scheduler invocation against
// its own session file.
type Bot struct {
	api   *gtbot.Bot
	cfg   *config.Config
	store *session.Store
	sched *scheduler.Scheduler
	log   *eventlog.Logger

	approvals *approvalStore

	limits budget.Limits

	mu        sync.Mutex
	lastMsgAt map[int64]time.Time   // per-chat cooldown
	turnLocks map[int64]*sync.Mutex // serializes turns per chat
}

// New constructs a Bot and registers its handlers. It does not start
// polling; call Run for that.
func New(cfg *config.Config, store *session.Store, sched *scheduler.Scheduler, log *eventlog.Logger, limits budget.Limits) (*Bot, error) {
	b := &Bot{
		cfg:       cfg,
		store:     store,
		sched:     sched,
		log:       log,
		approvals: newApprovalStore(time.Duration(cfg.TelegramApprovalTTLSecs) * time.Second),
		limits:    limits,
		lastMsgAt: make(map[int64]time.Time),
		turnLocks: make(map[int64]*sync.Mutex),
	}

	opts := []gtbot.Option{
		gtbot.WithDefaultHandler(b.handleUpdate),
	}
	api, err := gtbot.New(cfg.TelegramToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegrambot: create bot: %w", err)
	}
	b.api = api

	api.RegisterHandler(gtbot.HandlerTypeMessageText, "/start", gtbot.MatchTypeExact, b.handleStart)
	api.RegisterHandler(gtbot.HandlerTypeMessageText, "/help", gtbot.MatchTypeExact, b.handleStart)
	api.RegisterHandler(gtbot.HandlerTypeMessageText, "/id", gtbot.MatchTypeExact, b.handleID)
	api.RegisterHandler(gtbot.HandlerTypeMessageText, "/reset", gtbot.MatchTypeExact, b.handleReset)
	api.RegisterHandler(gtbot.HandlerTypeMessageText, "/dev", gtbot.MatchTypePrefix, b.handleDev)
	api.RegisterHandler(gtbot.HandlerTypeCallbackQueryData, "approve:", gtbot.MatchTypePrefix, b.handleApprovalCallback)
	api.RegisterHandler(gtbot.HandlerTypeCallbackQueryData, "deny:", gtbot.MatchTypePrefix, b.handleApprovalCallback)

	return b, nil
}

// Run starts long polling; it blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	b.api.Start(ctx)
}

func sessionIDForChat(chatID int64) string {
	return fmt.Sprintf("tg-%d", chatID)
}

func (b *Bot) isAllowed(chatID int64) bool {
	if len(b.cfg.TelegramAllowedChatIDs) == 0 {
		return true
	}
	for _, id := range b.cfg.TelegramAllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

func (b *Bot) isAdmin(chatID int64) bool {
	for _, id := range b.cfg.TelegramAdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// cooldownActive reports whether chatID sent a non-command message within
// the configured cooldown window, and records this message's time either
// way.
func (b *Bot) cooldownActive(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	last, ok := b.lastMsgAt[chatID]
	b.lastMsgAt[chatID] = now
	if !ok {
		return false
	}
	return now.Sub(last) < time.Duration(b.cfg.TelegramRateLimitSecs)*time.Second
}

func (b *Bot) handleStart(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	b.reply(ctx, chatID, "agentloop bot\n\n/id - show this chat's session id\n/reset - clear the session\n/dev <message> - run under elevated (dev) purpose\n\nAny other message runs a normal turn.")
}

func (b *Bot) handleID(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	b.reply(ctx, chatID, sessionIDForChat(chatID))
}

func (b *Bot) handleReset(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	if err := b.store.Delete(sessionIDForChat(chatID)); err != nil {
		b.log.Error("bot_reset", err, map[string]any{"chat": chatID})
		b.reply(ctx, chatID, fmt.Sprintf("❗ Error: %s", err))
		return
	}
	b.reply(ctx, chatID, "Session reset.")
}

func (b *Bot) handleDev(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	if !b.isAdmin(chatID) {
		b.reply(ctx, chatID, "❗ Error: /dev requires an admin chat id.")
		return
	}
	text := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/dev"))
	if text == "" {
		b.reply(ctx, chatID, "usage: /dev <message>")
		return
	}
	b.runTurn(ctx, chatID, text, policy.PurposeDev)
}

func (b *Bot) handleUpdate(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	if !b.isAllowed(chatID) {
		return
	}
	if strings.HasPrefix(update.Message.Text, "/") {
		return // unrecognized command; the exact-match handlers above cover the known ones
	}
	if b.cooldownActive(chatID) {
		b.reply(ctx, chatID, "Please slow down a bit.")
		return
	}
	b.runTurn(ctx, chatID, update.Message.Text, policy.PurposeDefault)
}

// turnLock returns the mutex serializing turns for one chat. The session
// store does not prevent concurrent saves to the same id; holding this lock
// for the whole turn is what keeps two interleaved messages from clobbering
// each other's history.
func (b *Bot) turnLock(chatID int64) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.turnLocks[chatID]
	if !ok {
		l = &sync.Mutex{}
		b.turnLocks[chatID] = l
	}
	return l
}

func (b *Bot) runTurn(ctx context.Context, chatID int64, text string, purpose policy.Purpose) {
	lock := b.turnLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	sessID := sessionIDForChat(chatID)
	sess, err := b.store.GetOrCreate(sessID)
	if err != nil {
		b.log.Error("bot_get_session", err, map[string]any{"chat": chatID})
		b.reply(ctx, chatID, fmt.Sprintf("❗ Error: %s", err))
		return
	}
	sess.Messages = append(sess.Messages, provider.TextMessage("user", text))

	req := scheduler.RunRequest{
		Messages:        sess.Messages,
		MaxOutputTokens: 2048,
		Purpose:         purpose,
	}
	if purpose == policy.PurposeDev {
		req.Temperature = 0.7
	}
	canWrite := purpose == policy.PurposeDev || b.isAdmin(chatID)
	approve := b.approveFunc(ctx, chatID, canWrite)

	result, err := b.sched.Run(ctx, req, approve, b.limits)
	if err != nil {
		b.log.Error("bot_scheduler_run", err, map[string]any{"chat": chatID, "purpose": string(purpose)})
		b.reply(ctx, chatID, fmt.Sprintf("❗ Error: %s", err))
		return
	}

	sess.Messages = result.Messages
	if err := b.store.Save(sess); err != nil {
		b.log.Error("bot_save_session", err, map[string]any{"chat": chatID})
	}

	text = result.Final.Message.ContentString()
	if b.cfg.TelegramShowUsage {
		usd := b.cfg.EstimateUSD("grok", result.Usage.InputTokens, result.Usage.OutputTokens)
		text = fmt.Sprintf("%s\n\n_tokens=%d steps=%d est=$%.4f_", text, result.Usage.TotalTokens, result.Ledger.StepsUsed, usd)
	}
	b.reply(ctx, chatID, text)
}

// approveFunc binds scheduler.ApproveFunc to an inline-button prompt: a
// write_file or run_cmd call from an admin chat (or under dev purpose) sends
// approve/deny buttons and blocks on the pending-map channel (bounded by the
// configured TTL); from any other chat it is denied outright; read-only calls auto-approve the same way the terminal's --yes does,
// since requiring a button press for every list_dir call would make the
// bot unusable.
func (b *Bot) approveFunc(ctx context.Context, chatID int64, canWrite bool) scheduler.ApproveFunc {
	return func(ctx context.Context, call provider.ToolCall) bool {
		kind := policy.ClassifyTool(call.Function.Name)
		if kind == policy.ToolKindRead {
			return true
		}
		if !canWrite {
			return false
		}
		return b.promptApproval(ctx, chatID, call)
	}
}

func (b *Bot) promptApproval(ctx context.Context, chatID int64, call provider.ToolCall) bool {
	key := uuid.NewString()
	waiter := b.approvals.register(key)
	b.log.Event("toolloop_approve_prompt", map[string]any{"chat": chatID, "tool": call.Function.Name})

	kb := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "✅ Approve", CallbackData: "approve:" + key},
				{Text: "🚫 Deny", CallbackData: "deny:" + key},
			},
		},
	}
	_, err := b.api.SendMessage(ctx, &gtbot.SendMessageParams{
		ChatID:      chatID,
		Text:        fmt.Sprintf("Approve %s(%s)?", call.Function.Name, call.Function.Arguments),
		ReplyMarkup: kb,
	})
	if err != nil {
		b.log.Error("bot_send_approval_prompt", err, map[string]any{"chat": chatID})
		b.approvals.forget(key)
		return false
	}

	ttl := time.Duration(b.cfg.TelegramApprovalTTLSecs) * time.Second
	select {
	case approved := <-waiter:
		return approved
	case <-time.After(ttl):
		b.approvals.forget(key)
		return false
	case <-ctx.Done():
		b.approvals.forget(key)
		return false
	}
}

func (b *Bot) handleApprovalCallback(ctx context.Context, api *gtbot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	data := update.CallbackQuery.Data
	approved := strings.HasPrefix(data, "approve:")
	var key string
	if approved {
		key = strings.TrimPrefix(data, "approve:")
	} else {
		key = strings.TrimPrefix(data, "deny:")
	}

	resolved := b.approvals.resolve(key, approved)

	ackText := "Expired."
	if resolved {
		if approved {
			ackText = "Approved."
		} else {
			ackText = "Denied."
		}
	}
	_, _ = api.AnswerCallbackQuery(ctx, &gtbot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            ackText,
	})

	if msg := callbackMessage(update.CallbackQuery); msg != nil {
		_, _ = api.EditMessageText(ctx, &gtbot.EditMessageTextParams{
			ChatID:    msg.Chat.ID,
			MessageID: msg.ID,
			Text:      ackText,
		})
	}
}

func callbackMessage(cq *models.CallbackQuery) *models.Message {
	if cq.Message.Message != nil {
		return cq.Message.Message
	}
	return nil
}

// reply sends text to chatID, chunking it into multiple messages when it
// exceeds Telegram's practical length.
func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	for _, chunk := range chunkText(text, maxMessageChars) {
		_, err := b.api.SendMessage(ctx, &gtbot.SendMessageParams{ChatID: chatID, Text: chunk})
		if err != nil {
			b.log.Error("bot_send_message", err, map[string]any{"chat": chatID})
			return
		}
	}
}

func chunkText(text string, max int) []string {
	if text == "" {
		return []string{""}
	}
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		n := max
		if n > len(runes) {
			n = len(runes)
		}
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
