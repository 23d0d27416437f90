package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/notify"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// Channel 表示告警渠道。
type Channel string

// 支持的告警渠道
const (
	ChannelLog  Channel = "log"
	ChannelChat Channel = "chat"
)

// Event 描述一次需要告警的事件，通常来自跟单任务的连续失败。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	UserID     int64
	Watched    string
	Failures   int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责把事件发送到一个渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 把告警写入结构化日志，是默认渠道。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警日志。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.Int64("user_id", event.UserID),
		slog.String("watched", event.Watched),
		slog.Int("failures", event.Failures),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	logger.L().Error(event.Message, attrs...)
	return nil
}

// ChatNotifier 把告警作为聊天通知发给受影响的用户。
type ChatNotifier struct {
	Producer notify.Producer
}

// Channel 返回聊天渠道。
func (n *ChatNotifier) Channel() Channel { return ChannelChat }

// Notify 发送聊天告警。
func (n *ChatNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Producer == nil || event.UserID == 0 {
		logger.L().Warn("ChatNotifier 未正确配置，跳过发送", slog.Int64("user_id", event.UserID))
		return nil
	}
	text := fmt.Sprintf("Copy trading for %s has failed %d times in a row: %s", event.Watched, event.Failures, event.Message)
	return n.Producer.Publish(ctx, notify.Notice{UserID: event.UserID, Text: text})
}
