package bot

import (
	"context"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/notify"
	"github.com/ninjadev0030/tradingbot/internal/wizard"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// Bot 把 Telegram 更新流桥接到交易向导：文本消息走 HandleText，
// 内联按钮回调走 HandleAction，向导产出的回复再发回对应的会话。
// 每个用户有独立的信箱协程，同一用户的事件按到达顺序处理，
// 不同用户之间完全并行。
type Bot struct {
	api           *tgbotapi.BotAPI
	wizard        *wizard.Wizard
	updateTimeout int

	mu        sync.Mutex
	mailboxes map[int64]chan func()
}

// New 用给定 token 连接 Telegram 并构造 Bot。
func New(token string, wz *wizard.Wizard, updateTimeout int) (*Bot, error) {
	if token == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Telegram token 为空")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Telegram 失败")
	}
	if updateTimeout <= 0 {
		updateTimeout = 30
	}
	logger.L().Info("Telegram 机器人已连接", slog.String("username", api.Self.UserName))
	return &Bot{
		api:           api,
		wizard:        wz,
		updateTimeout: updateTimeout,
		mailboxes:     make(map[int64]chan func()),
	}, nil
}

// Run 拉取更新直到 ctx 结束。每个用户的事件在向导内部按到达顺序
// 串行处理，不同用户互不阻塞。
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.updateTimeout
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil {
			return
		}
		b.enqueue(ctx, cb.Message.Chat.ID, func() { b.handleCallback(ctx, cb) })
	case update.Message != nil && update.Message.Text != "":
		msg := update.Message
		b.enqueue(ctx, msg.Chat.ID, func() { b.handleMessage(ctx, msg) })
	}
}

// enqueue 把事件投入该用户的信箱，信箱协程按序消费。
// 信箱满时丢弃事件而不是阻塞其他用户的分发。
func (b *Bot) enqueue(ctx context.Context, userID int64, fn func()) {
	b.mu.Lock()
	mb, ok := b.mailboxes[userID]
	if !ok {
		mb = make(chan func(), 64)
		b.mailboxes[userID] = mb
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job, open := <-mb:
					if !open {
						return
					}
					job()
				}
			}
		}()
	}
	b.mu.Unlock()

	select {
	case mb <- fn:
	default:
		logger.L().Warn("用户事件信箱已满，丢弃事件", slog.Int64("user_id", userID))
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.Chat.ID
	replies := b.wizard.HandleText(ctx, userID, msg.Text)
	b.deliver(userID, replies)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	// 先应答回调，消除客户端的加载态。
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		logger.L().Warn("应答回调失败", slog.Any("error", err))
	}
	if cb.Message == nil {
		return
	}
	userID := cb.Message.Chat.ID
	replies := b.wizard.HandleAction(ctx, userID, cb.Data)
	b.deliver(userID, replies)
}

func (b *Bot) deliver(userID int64, replies []wizard.Reply) {
	for _, reply := range replies {
		msg := tgbotapi.NewMessage(userID, reply.Text)
		if len(reply.Keyboard) > 0 {
			msg.ReplyMarkup = toInlineKeyboard(reply.Keyboard)
		}
		if _, err := b.api.Send(msg); err != nil {
			logger.L().Warn("发送消息失败", slog.Int64("user_id", userID), slog.Any("error", err))
		}
	}
}

// Send 直接向用户投递一条文本，供通知消费者使用。
func (b *Bot) Send(_ context.Context, notice notify.Notice) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(notice.UserID, notice.Text)); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "发送通知失败")
	}
	return nil
}

func toInlineKeyboard(rows [][]wizard.Button) tgbotapi.InlineKeyboardMarkup {
	markup := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Action))
		}
		markup = append(markup, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(markup...)
}
