package wizard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/history"
	"github.com/ninjadev0030/tradingbot/internal/session"
	"github.com/ninjadev0030/tradingbot/internal/swap"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// Wizard 把按钮点击和自由文本转换成一次参数完整的兑换。
// 每个用户的事件经由会话注册表的 per-user 锁串行处理，
// 处于确认步骤的执行也在锁内完成，保证同账户不会并发提交。
type Wizard struct {
	sessions *session.Registry
	executor *swap.Executor
	gateway  chain.Gateway
	store    history.Store
	def      chain.Definition

	buyPresets      []string
	limitPresets    []string
	defaultSlippage float64
}

// New 构造向导。
func New(sessions *session.Registry, executor *swap.Executor, gateway chain.Gateway, store history.Store, def chain.Definition, buyPresets, limitPresets []string, defaultSlippage float64) *Wizard {
	return &Wizard{
		sessions:        sessions,
		executor:        executor,
		gateway:         gateway,
		store:           store,
		def:             def,
		buyPresets:      buyPresets,
		limitPresets:    limitPresets,
		defaultSlippage: defaultSlippage,
	}
}

// HandleText 处理一条自由文本消息，返回要发送的回复。
func (wz *Wizard) HandleText(ctx context.Context, userID int64, input string) []Reply {
	input = strings.TrimSpace(input)
	if input == "/start" || strings.EqualFold(input, "menu") {
		w, _ := wz.sessions.Wallet(userID)
		return []Reply{wz.welcome(w.Connected())}
	}
	if strings.EqualFold(input, "cancel") {
		return wz.cancel(userID)
	}

	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		switch w.Step {
		case session.StepAwaitPrivateKey:
			replies = wz.connectWallet(ctx, w, input)
		case session.StepAwaitTokenBuy:
			replies = wz.acceptToken(w, input, session.StepAwaitBuyAmount)
		case session.StepAwaitBuyAmount:
			replies = wz.acceptAmount(w, input, session.StepConfirmBuy)
		case session.StepAwaitTokenSell:
			replies = wz.acceptToken(w, input, session.StepAwaitSellAmount)
		case session.StepAwaitSellAmount:
			replies = wz.acceptAmount(w, input, session.StepConfirmSell)
		case session.StepConfirmBuy, session.StepConfirmSell:
			replies = []Reply{text("Use the buttons below to confirm or cancel the trade.")}
		case session.StepAwaitCopyWallet:
			replies = wz.acceptCopyWallet(w, input)
		case session.StepAwaitCopyLimit:
			replies = wz.acceptCopyLimit(w, input)
		case session.StepAwaitGasPref:
			replies = wz.acceptGasTier(w, input)
		case session.StepAwaitSlippage:
			replies = wz.acceptSlippage(w, input)
		default:
			replies = []Reply{mainMenu(w.Connected())}
		}
		return true
	})
	return replies
}

// HandleAction 处理一次内联按钮点击。
func (wz *Wizard) HandleAction(ctx context.Context, userID int64, action string) []Reply {
	switch {
	case action == ActionMenu:
		w, _ := wz.sessions.Wallet(userID)
		return []Reply{mainMenu(w.Connected())}
	case action == ActionConnect:
		return wz.beginConnect(userID)
	case action == ActionDisconnect:
		wz.sessions.DeleteWallet(userID)
		return []Reply{text("Wallet disconnected."), mainMenu(false)}
	case action == ActionBuy:
		return wz.beginTrade(userID, session.StepAwaitTokenBuy, "Send the address of the token you want to buy.")
	case action == ActionSell:
		return wz.beginTrade(userID, session.StepAwaitTokenSell, "Send the address of the token you want to sell.")
	case action == ActionConfirm:
		return wz.confirm(ctx, userID)
	case action == ActionCancel:
		return wz.cancel(userID)
	case action == ActionHistory:
		return wz.listHistory(ctx, userID)
	case action == ActionCopyMenu:
		return []Reply{copyMenu()}
	case action == ActionCopySetup:
		return wz.beginTrade(userID, session.StepAwaitCopyWallet, "Send the wallet address you want to copy trades from.")
	case action == ActionCopyActivate:
		return wz.setCopyActive(userID, true)
	case action == ActionCopyPause:
		return wz.setCopyActive(userID, false)
	case action == ActionCopyResume:
		return wz.setCopyActive(userID, true)
	case action == ActionCopyStatus:
		return wz.copyStatus(userID)
	case strings.HasPrefix(action, actionBuyPresetPrefix):
		return wz.presetAmount(userID, strings.TrimPrefix(action, actionBuyPresetPrefix))
	case strings.HasPrefix(action, actionLimitPresetPrefix):
		return wz.presetLimit(userID, strings.TrimPrefix(action, actionLimitPresetPrefix))
	case strings.HasPrefix(action, actionGasPrefix):
		return wz.pickGasTier(userID, strings.TrimPrefix(action, actionGasPrefix))
	default:
		return []Reply{text("I don't recognize that action.")}
	}
}

func (wz *Wizard) welcome(connected bool) Reply {
	menu := mainMenu(connected)
	menu.Text = fmt.Sprintf("Welcome to the %s trading bot. %s", wz.def.NativeSymbol, menu.Text)
	return menu
}

// beginConnect 开始（或重新开始）钱包连接，旧账户同时被丢弃。
func (wz *Wizard) beginConnect(userID int64) []Reply {
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		w.Account = nil
		w.Step = session.StepAwaitPrivateKey
		w.TokenIn = common.Address{}
		w.TokenOut = common.Address{}
		w.PendingAmount = ""
		return true
	})
	return []Reply{text("Send me the private key of the wallet you want to connect. Delete the message right after it is processed.")}
}

func (wz *Wizard) connectWallet(ctx context.Context, w *session.Wallet, input string) []Reply {
	account, err := session.DeriveAccount(input)
	if err != nil {
		return []Reply{text("That does not look like a valid private key. Try again or tap Cancel.")}
	}
	w.Account = account
	w.Step = session.StepNone

	msg := fmt.Sprintf("Wallet connected: %s", account.Address().Hex())
	if balance, balErr := wz.gateway.Balance(ctx, account.Address()); balErr == nil {
		msg += fmt.Sprintf("\nBalance: %s %s", swap.FromBaseUnits(balance, swap.NativeDecimals), wz.def.NativeSymbol)
	}
	return []Reply{text(msg), mainMenu(true)}
}

// beginTrade 进入一个需要先连接钱包的收集步骤。
func (wz *Wizard) beginTrade(userID int64, step session.Step, prompt string) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		if !w.Connected() {
			replies = []Reply{{
				Text:     "Connect a wallet first.",
				Keyboard: [][]Button{{{Label: "Connect Wallet", Action: ActionConnect}}},
			}}
			return w.Connected() || w.Step != session.StepNone
		}
		w.Step = step
		replies = []Reply{text(prompt)}
		return true
	})
	return replies
}

func (wz *Wizard) acceptToken(w *session.Wallet, input string, next session.Step) []Reply {
	if !common.IsHexAddress(input) {
		return []Reply{text("That is not a valid token address. Send a 0x-prefixed hex address.")}
	}
	addr := common.HexToAddress(input)
	if next == session.StepAwaitBuyAmount {
		w.TokenOut = addr
		w.Step = next
		return []Reply{{
			Text:     fmt.Sprintf("How much %s do you want to spend? Pick a preset or type an amount.", wz.def.NativeSymbol),
			Keyboard: presetKeyboard(wz.buyPresets, actionBuyPresetPrefix),
		}}
	}
	w.TokenIn = addr
	w.Step = next
	return []Reply{text("How many tokens do you want to sell? Type an amount.")}
}

func (wz *Wizard) acceptAmount(w *session.Wallet, input string, next session.Step) []Reply {
	if _, err := swap.ParsePositiveDecimal(input); err != nil {
		return []Reply{text("Amount must be a positive number, e.g. 10 or 0.5.")}
	}
	w.PendingAmount = strings.TrimSpace(input)
	w.Step = next
	return []Reply{wz.confirmPrompt(w)}
}

func (wz *Wizard) confirmPrompt(w *session.Wallet) Reply {
	if w.Step == session.StepConfirmBuy {
		return Reply{
			Text:     fmt.Sprintf("Buy %s %s worth of tokens at %s?", w.PendingAmount, wz.def.NativeSymbol, w.TokenOut.Hex()),
			Keyboard: confirmKeyboard(),
		}
	}
	return Reply{
		Text:     fmt.Sprintf("Sell %s tokens at %s for %s?", w.PendingAmount, w.TokenIn.Hex(), wz.def.NativeSymbol),
		Keyboard: confirmKeyboard(),
	}
}

// presetAmount 处理买入金额预设按钮。只在等待买入金额时有效。
func (wz *Wizard) presetAmount(userID int64, preset string) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		if w.Step != session.StepAwaitBuyAmount {
			replies = []Reply{text("That button is no longer valid. Start over from the menu.")}
			return w.Connected() || w.Step != session.StepNone
		}
		replies = wz.acceptAmount(w, preset, session.StepConfirmBuy)
		return true
	})
	return replies
}

// confirm 执行确认动作。会话不在确认步骤时报告过期且绝不触链；
// 确认步骤在触链之前就被清除，同一笔交易不可能被执行两次。
func (wz *Wizard) confirm(ctx context.Context, userID int64) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		if w.Step != session.StepConfirmBuy && w.Step != session.StepConfirmSell {
			replies = []Reply{text("Session expired — nothing to confirm. Start over from the menu.")}
			return w.Connected() || w.Step != session.StepNone
		}
		if !w.Connected() {
			w.Step = session.StepNone
			replies = []Reply{text("Session expired — wallet is no longer connected.")}
			return false
		}

		isBuy := w.Step == session.StepConfirmBuy
		account := w.Account
		tokenIn, tokenOut := w.TokenIn, w.TokenOut
		amountText := w.PendingAmount
		w.Step = session.StepNone
		w.TokenIn = common.Address{}
		w.TokenOut = common.Address{}
		w.PendingAmount = ""

		if isBuy {
			replies = wz.executeBuy(ctx, userID, account, tokenOut, amountText)
		} else {
			replies = wz.executeSell(ctx, userID, account, tokenIn, amountText)
		}
		return true
	})
	return replies
}

func (wz *Wizard) executeBuy(ctx context.Context, userID int64, account *session.Account, tokenOut common.Address, amountText string) []Reply {
	amount, err := swap.ParsePositiveDecimal(amountText)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}
	wei, err := swap.ToBaseUnits(amount, swap.NativeDecimals)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}

	result, err := wz.executor.Buy(ctx, userID, account, tokenOut, wei, swap.ExecOptions{Slippage: wz.defaultSlippage})
	if err != nil {
		return wz.tradeFailure(result, err)
	}

	msg := fmt.Sprintf("Buy confirmed.\nTx: %s", result.Receipt.TxHash.Hex())
	if result.NewBalance != nil {
		if decimals, decErr := wz.tokenDecimals(ctx, tokenOut); decErr == nil {
			msg += fmt.Sprintf("\nToken balance: %s", swap.FromBaseUnits(result.NewBalance, decimals))
		}
	}
	return []Reply{text(msg), mainMenu(true)}
}

func (wz *Wizard) executeSell(ctx context.Context, userID int64, account *session.Account, tokenIn common.Address, amountText string) []Reply {
	amount, err := swap.ParsePositiveDecimal(amountText)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}
	decimals, err := wz.tokenDecimals(ctx, tokenIn)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}
	units, err := swap.ToBaseUnits(amount, decimals)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}

	result, err := wz.executor.Sell(ctx, userID, account, tokenIn, units, swap.ExecOptions{Slippage: wz.defaultSlippage})
	if err != nil {
		return wz.tradeFailure(result, err)
	}

	msg := fmt.Sprintf("Sell confirmed.\nTx: %s", result.Receipt.TxHash.Hex())
	if result.NewBalance != nil {
		msg += fmt.Sprintf("\n%s balance: %s", wz.def.NativeSymbol, swap.FromBaseUnits(result.NewBalance, swap.NativeDecimals))
	}
	return []Reply{text(msg), mainMenu(true)}
}

func (wz *Wizard) tradeFailure(result *swap.Result, err error) []Reply {
	msg := failureMessage(err)
	if result != nil {
		msg += fmt.Sprintf("\nTx: %s", result.Receipt.TxHash.Hex())
	}
	return []Reply{text(msg), mainMenu(true)}
}

// cancel 清除当前步骤但保留已连接的账户；从未连接过的会话直接删除。
func (wz *Wizard) cancel(userID int64) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		w.Step = session.StepNone
		w.TokenIn = common.Address{}
		w.TokenOut = common.Address{}
		w.PendingAmount = ""
		replies = []Reply{text("Cancelled."), mainMenu(w.Connected())}
		return w.Connected()
	})
	return replies
}

func (wz *Wizard) acceptCopyWallet(w *session.Wallet, input string) []Reply {
	if !common.IsHexAddress(input) {
		return []Reply{text("That is not a valid wallet address. Send a 0x-prefixed hex address.")}
	}
	watched := common.HexToAddress(input)
	wz.withCopy(w.UserID, func(c *session.CopyTrade) {
		c.WatchedAddress = watched
	})
	w.Step = session.StepAwaitCopyLimit
	return []Reply{{
		Text:     fmt.Sprintf("Maximum %s to spend per mirrored trade? Pick a preset or type an amount.", wz.def.NativeSymbol),
		Keyboard: presetKeyboard(wz.limitPresets, actionLimitPresetPrefix),
	}}
}

func (wz *Wizard) acceptCopyLimit(w *session.Wallet, input string) []Reply {
	amount, err := swap.ParsePositiveDecimal(input)
	if err != nil {
		return []Reply{text("Limit must be a positive number, e.g. 5.")}
	}
	units, err := swap.ToBaseUnits(amount, swap.NativeDecimals)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}
	wz.withCopy(w.UserID, func(c *session.CopyTrade) {
		c.Limit = units
	})
	w.Step = session.StepAwaitGasPref
	return []Reply{{Text: "Pick a gas preference for mirrored trades.", Keyboard: gasKeyboard()}}
}

func (wz *Wizard) acceptGasTier(w *session.Wallet, input string) []Reply {
	tier, err := session.ParseGasTier(input)
	if err != nil {
		return []Reply{{Text: "Pick one of the gas tiers below.", Keyboard: gasKeyboard()}}
	}
	wz.withCopy(w.UserID, func(c *session.CopyTrade) {
		c.GasTier = tier
	})
	w.Step = session.StepAwaitSlippage
	return []Reply{text("Slippage tolerance in percent, between 0 and 100 (e.g. 5).")}
}

func (wz *Wizard) acceptSlippage(w *session.Wallet, input string) []Reply {
	fraction, err := swap.ParseSlippagePercent(input)
	if err != nil {
		return []Reply{text("Slippage must be a percentage above 0 and at most 100.")}
	}
	wz.withCopy(w.UserID, func(c *session.CopyTrade) {
		c.Slippage = fraction
	})
	w.Step = session.StepNone
	return []Reply{{
		Text:     "Copy trading is configured. Activate it now?",
		Keyboard: [][]Button{{{Label: "Activate", Action: ActionCopyActivate}, {Label: "Later", Action: ActionMenu}}},
	}}
}

// pickGasTier 处理 gas 档位按钮。
func (wz *Wizard) pickGasTier(userID int64, raw string) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		if w.Step != session.StepAwaitGasPref {
			replies = []Reply{text("That button is no longer valid. Start over from the menu.")}
		} else {
			replies = wz.acceptGasTier(w, raw)
		}
		return true
	})
	return replies
}

func (wz *Wizard) presetLimit(userID int64, preset string) []Reply {
	var replies []Reply
	wz.sessions.WithWallet(userID, func(w *session.Wallet) bool {
		if w.Step != session.StepAwaitCopyLimit {
			replies = []Reply{text("That button is no longer valid. Start over from the menu.")}
		} else {
			replies = wz.acceptCopyLimit(w, preset)
		}
		return true
	})
	return replies
}

// setCopyActive 切换跟单开关。激活未完成引导配置的会话时回填默认值，
// 暂停与恢复只改动 Active 一个字段。
func (wz *Wizard) setCopyActive(userID int64, active bool) []Reply {
	var replies []Reply
	wz.sessions.WithCopyTrade(userID, func(c *session.CopyTrade) bool {
		if c.WatchedAddress == (common.Address{}) {
			replies = []Reply{{
				Text:     "Set up copy trading first.",
				Keyboard: [][]Button{{{Label: "Set Up", Action: ActionCopySetup}}},
			}}
			return c.Configured()
		}
		if active && !c.Configured() {
			c.ApplyDefaults()
			replies = append(replies, text("Missing settings filled with safe defaults (limit 1, gas low, slippage 5%)."))
		}
		c.Active = active
		if active {
			replies = append(replies, text(fmt.Sprintf("Copy trading active. Watching %s.", c.WatchedAddress.Hex())))
			logger.L().Info("跟单已激活", slog.Int64("user_id", userID), slog.String("watched", c.WatchedAddress.Hex()))
		} else {
			replies = append(replies, text("Copy trading paused. Your settings are kept."))
		}
		return true
	})
	return replies
}

func (wz *Wizard) copyStatus(userID int64) []Reply {
	c, ok := wz.sessions.CopyTrade(userID)
	if !ok || c.WatchedAddress == (common.Address{}) {
		return []Reply{text("Copy trading is not set up.")}
	}
	state := "paused"
	if c.Active {
		state = "active"
	}
	msg := fmt.Sprintf("Copy trading is %s.\nWatching: %s", state, c.WatchedAddress.Hex())
	if c.Limit != nil {
		msg += fmt.Sprintf("\nLimit: %s %s", swap.FromBaseUnits(c.Limit, swap.NativeDecimals), wz.def.NativeSymbol)
	}
	if c.GasTier != "" {
		msg += fmt.Sprintf("\nGas: %s", c.GasTier)
	}
	if c.Slippage > 0 {
		msg += fmt.Sprintf("\nSlippage: %.2f%%", c.Slippage*100)
	}
	return []Reply{text(msg)}
}

func (wz *Wizard) listHistory(ctx context.Context, userID int64) []Reply {
	if wz.store == nil {
		return []Reply{text("Trade history is not available.")}
	}
	records, err := wz.store.ListByUser(ctx, userID, 5)
	if err != nil {
		return []Reply{text(failureMessage(err))}
	}
	if len(records) == 0 {
		return []Reply{text("No trades yet.")}
	}
	var b strings.Builder
	b.WriteString("Recent trades:")
	for _, r := range records {
		outcome := "ok"
		if !r.Succeeded {
			outcome = "failed"
		}
		fmt.Fprintf(&b, "\n%s %s %s %s (%s)", time.Unix(r.CreatedAt, 0).Format("01-02 15:04"), r.Direction, r.Token, outcome, r.TxHash)
	}
	return []Reply{text(b.String())}
}

func (wz *Wizard) withCopy(userID int64, mutate func(c *session.CopyTrade)) {
	wz.sessions.WithCopyTrade(userID, func(c *session.CopyTrade) bool {
		mutate(c)
		return true
	})
}

func (wz *Wizard) tokenDecimals(ctx context.Context, token common.Address) (int32, error) {
	data, err := chain.PackDecimals()
	if err != nil {
		return 0, err
	}
	output, err := wz.gateway.Call(ctx, token, data)
	if err != nil {
		return 0, err
	}
	decimals, err := chain.UnpackDecimals(output)
	if err != nil {
		return 0, err
	}
	return int32(decimals), nil
}

// failureMessage 把内部错误翻译成区分输入错误、链上失败与网络故障的提示。
func failureMessage(err error) string {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeUserInput:
		return fmt.Sprintf("Your input was invalid: %s", err.Error())
	case xerrors.CodeAuthFailed:
		return "The connected account could not authorize this trade. Reconnect your wallet."
	case xerrors.CodeChainReverted:
		generic := xerrors.AttributesOf(xerrors.CodeChainReverted).Message
		if e, ok := err.(*xerrors.Error); ok && e.Message() != "" && e.Message() != generic {
			return fmt.Sprintf("The trade failed on-chain: %s", e.Message())
		}
		return "The trade failed on-chain."
	case xerrors.CodeTimeout:
		return "Timed out waiting for the network. The transaction may still confirm later."
	default:
		return "A network error occurred. Please try again."
	}
}
