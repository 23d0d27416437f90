package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Config 描述交易机器人在启动阶段需要加载的核心配置。
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Chain    ChainSelect    `json:"chain"`
	Trading  TradingConfig  `json:"trading"`
	Watcher  WatcherConfig  `json:"watcher"`
	History  HistoryConfig  `json:"history"`
	Notify   NotifyConfig   `json:"notify"`
	Log      LogConfig      `json:"log"`
}

// TelegramConfig 控制聊天端的接入方式。Token 通过环境变量注入。
type TelegramConfig struct {
	TokenEnv      string `json:"token_env"`
	UpdateTimeout int    `json:"update_timeout"`
}

// ChainSelect 指定要使用的链以及链定义文件的位置。
type ChainSelect struct {
	Name        string `json:"name"`
	Definitions string `json:"definitions"`
}

// TradingConfig 放置交易向导与执行器的可调参数。
type TradingConfig struct {
	BuyPresets      []string `json:"buy_presets"`
	LimitPresets    []string `json:"limit_presets"`
	DefaultSlippage float64  `json:"default_slippage"`
	DeadlineMinutes int      `json:"deadline_minutes"`
	GasLimitSwap    uint64   `json:"gas_limit_swap"`
	GasLimitApprove uint64   `json:"gas_limit_approve"`
}

// WatcherConfig 控制跟单轮询任务的节奏与去重存储。
type WatcherConfig struct {
	PollSeconds      int         `json:"poll_seconds"`
	FreshnessSeconds int64       `json:"freshness_seconds"`
	SessionTimeout   int         `json:"session_timeout_seconds"`
	AlertThreshold   int         `json:"alert_threshold"`
	Marker           MarkerStore `json:"marker"`
}

// MarkerStore 描述已镜像交易哈希的记录后端。
type MarkerStore struct {
	Driver   string `json:"driver"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// HistoryConfig 描述成交回执的存储后端。
type HistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// NotifyConfig 描述对外通知队列的后端与消费并发度。
type NotifyConfig struct {
	Driver  string `json:"driver"`
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Workers int    `json:"workers"`
}

// LogConfig 映射到 pkg/logger 的初始化参数。
type LogConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	AuditPath   string   `json:"audit_path"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Telegram.TokenEnv == "" {
		c.Telegram.TokenEnv = "TELEGRAM_BOT_TOKEN"
	}
	if c.Telegram.UpdateTimeout <= 0 {
		c.Telegram.UpdateTimeout = 60
	}

	if c.Chain.Name == "" {
		c.Chain.Name = "ronin"
	}
	if c.Chain.Definitions == "" {
		c.Chain.Definitions = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chain.Definitions) {
		c.Chain.Definitions = filepath.Join(baseDir, c.Chain.Definitions)
	}

	if len(c.Trading.BuyPresets) == 0 {
		c.Trading.BuyPresets = []string{"10", "25", "50", "100"}
	}
	if len(c.Trading.LimitPresets) == 0 {
		c.Trading.LimitPresets = []string{"1", "5", "10", "25"}
	}
	if c.Trading.DefaultSlippage <= 0 || c.Trading.DefaultSlippage > 1 {
		c.Trading.DefaultSlippage = 0.05
	}
	if c.Trading.DeadlineMinutes <= 0 {
		c.Trading.DeadlineMinutes = 10
	}
	if c.Trading.GasLimitSwap == 0 {
		c.Trading.GasLimitSwap = 300_000
	}
	if c.Trading.GasLimitApprove == 0 {
		c.Trading.GasLimitApprove = 60_000
	}

	if c.Watcher.PollSeconds <= 0 {
		c.Watcher.PollSeconds = 5
	}
	if c.Watcher.FreshnessSeconds <= 0 {
		c.Watcher.FreshnessSeconds = 5
	}
	if c.Watcher.SessionTimeout <= 0 {
		c.Watcher.SessionTimeout = 15
	}
	if c.Watcher.AlertThreshold <= 0 {
		c.Watcher.AlertThreshold = 5
	}
	if c.Watcher.Marker.Driver == "" {
		c.Watcher.Marker.Driver = "memory"
	}
	if c.Watcher.Marker.Prefix == "" {
		c.Watcher.Marker.Prefix = "tradingbot:mirrored"
	}

	if c.History.Driver == "" {
		c.History.Driver = "memory"
	}

	if c.Notify.Driver == "" {
		c.Notify.Driver = "memory"
	}
	if c.Notify.Queue == "" {
		c.Notify.Queue = "tradingbot.notify"
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 2
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate 检查会导致系统无法安全启动的缺失项。
func (c *Config) validate() error {
	switch c.History.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.History.DSN) == "" {
			return xerrors.New(xerrors.CodeConfigInvalid, "history.driver=mysql 需要配置 dsn")
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未知的 history driver: %s", c.History.Driver))
	}

	switch c.Watcher.Marker.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Watcher.Marker.Address) == "" {
			return xerrors.New(xerrors.CodeConfigInvalid, "watcher.marker.driver=redis 需要配置 address")
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未知的 marker driver: %s", c.Watcher.Marker.Driver))
	}

	switch c.Notify.Driver {
	case "memory":
	case "rabbitmq":
		if strings.TrimSpace(c.Notify.URL) == "" {
			return xerrors.New(xerrors.CodeConfigInvalid, "notify.driver=rabbitmq 需要配置 url")
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未知的 notify driver: %s", c.Notify.Driver))
	}

	return nil
}
