package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ninjadev0030/tradingbot/internal/bot"
	"github.com/ninjadev0030/tradingbot/internal/chain"
	"github.com/ninjadev0030/tradingbot/internal/chain/ethereum"
	"github.com/ninjadev0030/tradingbot/internal/chain/feed"
	"github.com/ninjadev0030/tradingbot/internal/config"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/history"
	"github.com/ninjadev0030/tradingbot/internal/notify"
	"github.com/ninjadev0030/tradingbot/internal/observability/alerting"
	"github.com/ninjadev0030/tradingbot/internal/session"
	"github.com/ninjadev0030/tradingbot/internal/swap"
	"github.com/ninjadev0030/tradingbot/internal/watcher"
	"github.com/ninjadev0030/tradingbot/internal/wizard"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// main 是交易机器人守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("tradingbotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	_ = godotenv.Load()

	configPath := os.Getenv("TRADINGBOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "tradingbot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	definitions, err := chain.LoadDefinitions(cfg.Chain.Definitions)
	if err != nil {
		return err
	}
	def, err := definitions.Select(cfg.Chain.Name)
	if err != nil {
		return err
	}

	gateway, err := ethereum.NewClient(ctx, def)
	if err != nil {
		return err
	}
	defer gateway.Close()

	tradeFeed, err := feed.NewClient(def.ExplorerAPI)
	if err != nil {
		return err
	}

	var store history.Store
	switch cfg.History.Driver {
	case "", "memory":
		store = history.NewMemoryStore()
	case "mysql":
		store, err = history.NewMySQLStore(cfg.History.DSN)
		if err != nil {
			return err
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, "未知的历史存储驱动: "+cfg.History.Driver)
	}
	defer store.Close()

	var marker watcher.Marker
	switch cfg.Watcher.Marker.Driver {
	case "", "memory":
		marker = watcher.NewMemoryMarker()
	case "redis":
		marker, err = watcher.NewRedisMarker(watcher.RedisMarkerConfig{
			Address:  cfg.Watcher.Marker.Address,
			Password: cfg.Watcher.Marker.Password,
			DB:       cfg.Watcher.Marker.DB,
			Prefix:   cfg.Watcher.Marker.Prefix,
		})
		if err != nil {
			return err
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, "未知的标记存储驱动: "+cfg.Watcher.Marker.Driver)
	}
	defer marker.Close()

	var queue notify.Queue
	switch cfg.Notify.Driver {
	case "", "memory":
		queue = notify.NewMemoryQueue(256)
	case "rabbitmq":
		queue, err = notify.NewRabbitMQQueue(notify.RabbitMQConfig{
			URL:     cfg.Notify.URL,
			Queue:   cfg.Notify.Queue,
			Durable: true,
		})
		if err != nil {
			return err
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, "未知的通知队列驱动: "+cfg.Notify.Driver)
	}
	defer queue.Close()

	sessions := session.NewRegistry()
	executor := swap.NewExecutor(gateway, def,
		swap.WithHistory(store),
		swap.WithGasLimits(cfg.Trading.GasLimitSwap, cfg.Trading.GasLimitApprove),
		swap.WithDeadline(time.Duration(cfg.Trading.DeadlineMinutes)*time.Minute),
	)
	wz := wizard.New(sessions, executor, gateway, store, def,
		cfg.Trading.BuyPresets, cfg.Trading.LimitPresets, cfg.Trading.DefaultSlippage)

	token := strings.TrimSpace(os.Getenv(cfg.Telegram.TokenEnv))
	chatBot, err := bot.New(token, wz, cfg.Telegram.UpdateTimeout)
	if err != nil {
		return err
	}

	alerts := alerting.NewFanout(&alerting.LogNotifier{}, &alerting.ChatNotifier{Producer: queue})

	copyWatcher := watcher.New(sessions, tradeFeed, gateway, executor, marker, queue, alerts, watcher.Config{
		PollInterval:   time.Duration(cfg.Watcher.PollSeconds) * time.Second,
		Freshness:      time.Duration(cfg.Watcher.FreshnessSeconds) * time.Second,
		SessionTimeout: time.Duration(cfg.Watcher.SessionTimeout) * time.Second,
		AlertThreshold: cfg.Watcher.AlertThreshold,
		NativeSymbol:   def.NativeSymbol,
	})

	watcherCtx, cancelWatcher := context.WithCancel(ctx)
	defer cancelWatcher()

	go func() {
		if err := copyWatcher.Run(watcherCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("跟单监听器异常退出: %v", err)
		}
	}()
	go func() {
		if err := queue.Consume(watcherCtx, cfg.Notify.Workers, chatBot.Send); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("通知消费者异常退出: %v", err)
		}
	}()

	if err := chatBot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
