package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	"github.com/ninjadev0030/tradingbot/internal/chain/feed"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/notify"
	"github.com/ninjadev0030/tradingbot/internal/observability/alerting"
	"github.com/ninjadev0030/tradingbot/internal/session"
	"github.com/ninjadev0030/tradingbot/internal/swap"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// Config 控制轮询任务的节奏与容错阈值。
type Config struct {
	// PollInterval 是两次 tick 之间的间隔。
	PollInterval time.Duration
	// Freshness 限定被镜像交易允许落后链头的时长，
	// 超过即视为陈旧活动直接丢弃。
	Freshness time.Duration
	// SessionTimeout 限定单个跟单会话一次处理的最长耗时。
	SessionTimeout time.Duration
	// AlertThreshold 是触发告警的连续失败次数。
	AlertThreshold int
	// NativeSymbol 用于通知文案中的币种展示。
	NativeSymbol string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Freshness <= 0 {
		c.Freshness = 5 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 15 * time.Second
	}
	if c.AlertThreshold <= 0 {
		c.AlertThreshold = 5
	}
	if c.NativeSymbol == "" {
		c.NativeSymbol = "RON"
	}
}

// Watcher 周期性巡视所有激活的跟单会话，检测被跟单钱包的新买入
// 并以跟随者自己的账户复刻。单个会话的故障只影响它自己。
type Watcher struct {
	sessions *session.Registry
	feed     feed.Feed
	gateway  chain.Gateway
	executor *swap.Executor
	marker   Marker
	producer notify.Producer
	alerts   alerting.Dispatcher
	cfg      Config

	mu       sync.Mutex
	failures map[int64]int
}

// New 构造 Watcher。
func New(sessions *session.Registry, tradeFeed feed.Feed, gateway chain.Gateway, executor *swap.Executor, marker Marker, producer notify.Producer, alerts alerting.Dispatcher, cfg Config) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		sessions: sessions,
		feed:     tradeFeed,
		gateway:  gateway,
		executor: executor,
		marker:   marker,
		producer: producer,
		alerts:   alerts,
		cfg:      cfg,
		failures: make(map[int64]int),
	}
}

// Run 启动轮询循环，直到 ctx 结束。
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	logger.L().Info("跟单监听器启动", slog.Duration("interval", w.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("跟单监听器退出")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick 巡视一轮所有激活会话。单个会话的错误记入失败计数后继续。
func (w *Watcher) tick(ctx context.Context) {
	for _, c := range w.sessions.ActiveCopyTrades() {
		sessionCtx, cancel := context.WithTimeout(ctx, w.cfg.SessionTimeout)
		err := w.mirror(sessionCtx, c)
		cancel()

		if err != nil {
			logger.L().Warn("跟单会话处理失败",
				slog.Int64("user_id", c.UserID),
				slog.String("watched", c.WatchedAddress.Hex()),
				slog.Any("error", err),
			)
			w.recordFailure(ctx, c, err)
			continue
		}
		w.resetFailures(c.UserID)
	}
}

// mirror 处理一个跟单会话：拉取最新交易、判定新鲜度与选择器、
// 解码后以跟随者账户复刻。返回 nil 表示本轮无事可做或已处理完毕。
func (w *Watcher) mirror(ctx context.Context, c *session.CopyTrade) error {
	txs, err := w.feed.RecentTransactions(ctx, c.WatchedAddress, 1)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		return nil
	}
	tx := txs[len(txs)-1]

	head, err := w.gateway.Head(ctx)
	if err != nil {
		return err
	}
	if head.Timestamp < tx.BlockTimestamp {
		return nil
	}
	if delta := time.Duration(head.Timestamp-tx.BlockTimestamp) * time.Second; delta > w.cfg.Freshness {
		return nil
	}

	if !chain.IsBuySwap(tx.Input) {
		return nil
	}
	if tx.Value == nil || tx.Value.Sign() <= 0 {
		return nil
	}

	hash := tx.Hash.Hex()
	seen, err := w.marker.Seen(ctx, c.UserID, hash)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	call, err := chain.DecodeBuySwap(tx.Input)
	if err != nil {
		// 选择器匹配但参数无法解码，标记后放弃这笔。
		_ = w.marker.Mark(ctx, c.UserID, hash)
		return err
	}
	tokenOut := call.TokenOut()

	wallet, ok := w.sessions.Wallet(c.UserID)
	if !ok || !wallet.Connected() {
		if markErr := w.marker.Mark(ctx, c.UserID, hash); markErr != nil {
			return markErr
		}
		w.send(ctx, c.UserID, "A trade was detected on the wallet you copy, but no wallet of yours is connected. Connect one to start mirroring.")
		return nil
	}

	amount := clampAmount(tx.Value, c.Limit)
	gasPrice, err := w.effectiveGasPrice(ctx, c.GasTier)
	if err != nil {
		return err
	}

	// 先标记再执行，确保同一笔交易绝不会被复刻两次。
	if err := w.marker.Mark(ctx, c.UserID, hash); err != nil {
		return err
	}

	w.send(ctx, c.UserID, fmt.Sprintf(
		"Detected a buy on %s (%s). Mirroring %s %s.",
		c.WatchedAddress.Hex(), hash, swap.FromBaseUnits(amount, swap.NativeDecimals), w.cfg.NativeSymbol,
	))

	var (
		result  *swap.Result
		execErr error
	)
	w.sessions.WithWallet(c.UserID, func(ws *session.Wallet) bool {
		if !ws.Connected() {
			execErr = xerrors.New(xerrors.CodeAuthFailed, "钱包会话已断开")
			return ws.Step != session.StepNone
		}
		result, execErr = w.executor.Buy(ctx, c.UserID, ws.Account, tokenOut, amount, swap.ExecOptions{
			Slippage: c.Slippage,
			GasPrice: gasPrice,
			Mirrored: true,
		})
		return true
	})

	if execErr != nil {
		msg := "The mirrored trade failed"
		if xerrors.CodeOf(execErr) == xerrors.CodeChainReverted && result != nil && result.Receipt.RevertReason != "" {
			msg += ": " + result.Receipt.RevertReason
		}
		w.send(ctx, c.UserID, msg+".")
		return execErr
	}

	w.send(ctx, c.UserID, fmt.Sprintf("Mirrored trade confirmed. Tx: %s", result.Receipt.TxHash.Hex()))
	return nil
}

// clampAmount 把镜像金额压到会话限额以内。
func clampAmount(observed, limit *big.Int) *big.Int {
	if limit != nil && observed.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(observed)
}

// effectiveGasPrice 按档位倍数放大节点建议价。
func (w *Watcher) effectiveGasPrice(ctx context.Context, tier session.GasTier) (*big.Int, error) {
	base, err := w.gateway.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(base, big.NewInt(tier.Multiplier())), nil
}

// send 尽力投递一条聊天通知，失败只记日志。
func (w *Watcher) send(ctx context.Context, userID int64, text string) {
	if w.producer == nil {
		return
	}
	if err := w.producer.Publish(ctx, notify.Notice{UserID: userID, Text: text}); err != nil {
		logger.L().Warn("通知投递失败", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// recordFailure 累计连续失败次数，达到阈值时触发告警并清零。
func (w *Watcher) recordFailure(ctx context.Context, c *session.CopyTrade, cause error) {
	w.mu.Lock()
	w.failures[c.UserID]++
	count := w.failures[c.UserID]
	if count >= w.cfg.AlertThreshold {
		w.failures[c.UserID] = 0
	}
	w.mu.Unlock()

	if count < w.cfg.AlertThreshold || w.alerts == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		UserID:     c.UserID,
		Watched:    c.WatchedAddress.Hex(),
		Failures:   count,
		OccurredAt: time.Now(),
	}
	if err := w.alerts.Notify(ctx, event); err != nil {
		logger.L().Error("告警发送失败", slog.Any("error", err))
	}
}

func (w *Watcher) resetFailures(userID int64) {
	w.mu.Lock()
	delete(w.failures, userID)
	w.mu.Unlock()
}
