package swap

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/history"
	"github.com/ninjadev0030/tradingbot/internal/session"
	"github.com/ninjadev0030/tradingbot/pkg/logger"
)

// Executor 负责构造、签名、提交并确认一次链上兑换。
// 同一账户的交易严格串行：卖出时授权交易必须先拿到回执，
// 之后才会构造兑换交易本身。
type Executor struct {
	gateway         chain.Gateway
	store           history.Store
	def             chain.Definition
	gasLimitSwap    uint64
	gasLimitApprove uint64
	deadline        time.Duration
}

// Option 定义可选配置。
type Option func(*Executor)

// WithHistory 指定成交记录存储。
func WithHistory(store history.Store) Option {
	return func(e *Executor) {
		e.store = store
	}
}

// WithGasLimits 覆盖默认的 gas 上限。
func WithGasLimits(swap, approve uint64) Option {
	return func(e *Executor) {
		if swap > 0 {
			e.gasLimitSwap = swap
		}
		if approve > 0 {
			e.gasLimitApprove = approve
		}
	}
}

// WithDeadline 设置兑换调用的链上截止时间偏移。
func WithDeadline(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.deadline = d
		}
	}
}

// NewExecutor 构造 Executor。
func NewExecutor(gateway chain.Gateway, def chain.Definition, opts ...Option) *Executor {
	e := &Executor{
		gateway:         gateway,
		def:             def,
		gasLimitSwap:    300_000,
		gasLimitApprove: 60_000,
		deadline:        10 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExecOptions 携带一次执行的可变参数。
type ExecOptions struct {
	// Slippage 是小数形式的滑点比例，必须大于 0。
	Slippage float64
	// GasPrice 为 nil 时向节点查询建议价格；跟单监听器会传入
	// 按档位放大后的价格。
	GasPrice *big.Int
	// Mirrored 标记这笔成交是否来自跟单镜像。
	Mirrored bool
}

// Result 汇总一次执行的结果，供聊天层展示。
type Result struct {
	TradeID    string
	Receipt    chain.Receipt
	AmountIn   *big.Int
	MinimumOut *big.Int
	// NewBalance 是执行成功后账户的目标侧余额（买入为代币余额，
	// 卖出为原生币余额），查询失败时为 nil。
	NewBalance *big.Int
}

// Buy 用原生币买入目标代币。
func (e *Executor) Buy(ctx context.Context, userID int64, account *session.Account, tokenOut common.Address, nativeAmount *big.Int, opts ExecOptions) (*Result, error) {
	if err := e.checkArgs(account, tokenOut, nativeAmount, opts); err != nil {
		return nil, err
	}

	gasPrice, err := e.resolveGasPrice(ctx, opts)
	if err != nil {
		return nil, err
	}

	path := []common.Address{e.def.WrappedNativeAddress(), tokenOut}
	minOut, err := e.quoteMinimumOut(ctx, nativeAmount, path, opts.Slippage)
	if err != nil {
		return nil, err
	}

	data, err := chain.PackSwapExactRONForTokens(minOut, path, account.Address(), e.deadlineStamp())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "构造买入调用失败")
	}

	receipt, err := e.gateway.SignAndSend(ctx, chain.TxSpec{
		From:     account.Address(),
		To:       e.def.RouterAddress(),
		Value:    nativeAmount,
		GasLimit: e.gasLimitSwap,
		GasPrice: gasPrice,
		Data:     data,
	}, account.Key())
	if err != nil {
		return nil, err
	}

	result := &Result{
		TradeID:    uuid.NewString(),
		Receipt:    receipt,
		AmountIn:   nativeAmount,
		MinimumOut: minOut,
	}
	e.record(ctx, userID, history.DirectionBuy, tokenOut, result, opts.Mirrored)

	if !receipt.Succeeded {
		return result, revertError(receipt)
	}

	if balanceData, packErr := chain.PackBalanceOf(account.Address()); packErr == nil {
		if output, callErr := e.gateway.Call(ctx, tokenOut, balanceData); callErr == nil {
			if balance, decodeErr := chain.UnpackBalanceOf(output); decodeErr == nil {
				result.NewBalance = balance
			}
		}
	}

	logger.Audit().Info("买入成交",
		slog.String("trade_id", result.TradeID),
		slog.Int64("user_id", userID),
		slog.String("token", tokenOut.Hex()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
		slog.Bool("mirrored", opts.Mirrored),
	)
	return result, nil
}

// Sell 把代币卖回原生币。授权不足时先提交 approve 并等待回执。
func (e *Executor) Sell(ctx context.Context, userID int64, account *session.Account, tokenIn common.Address, tokenAmount *big.Int, opts ExecOptions) (*Result, error) {
	if err := e.checkArgs(account, tokenIn, tokenAmount, opts); err != nil {
		return nil, err
	}

	gasPrice, err := e.resolveGasPrice(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := e.ensureAllowance(ctx, account, tokenIn, tokenAmount, gasPrice); err != nil {
		return nil, err
	}

	path := []common.Address{tokenIn, e.def.WrappedNativeAddress()}
	minOut, err := e.quoteMinimumOut(ctx, tokenAmount, path, opts.Slippage)
	if err != nil {
		return nil, err
	}

	data, err := chain.PackSwapExactTokensForRON(tokenAmount, minOut, path, account.Address(), e.deadlineStamp())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "构造卖出调用失败")
	}

	receipt, err := e.gateway.SignAndSend(ctx, chain.TxSpec{
		From:     account.Address(),
		To:       e.def.RouterAddress(),
		Value:    new(big.Int),
		GasLimit: e.gasLimitSwap,
		GasPrice: gasPrice,
		Data:     data,
	}, account.Key())
	if err != nil {
		return nil, err
	}

	result := &Result{
		TradeID:    uuid.NewString(),
		Receipt:    receipt,
		AmountIn:   tokenAmount,
		MinimumOut: minOut,
	}
	e.record(ctx, userID, history.DirectionSell, tokenIn, result, opts.Mirrored)

	if !receipt.Succeeded {
		return result, revertError(receipt)
	}

	if balance, balErr := e.gateway.Balance(ctx, account.Address()); balErr == nil {
		result.NewBalance = balance
	}

	logger.Audit().Info("卖出成交",
		slog.String("trade_id", result.TradeID),
		slog.Int64("user_id", userID),
		slog.String("token", tokenIn.Hex()),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	return result, nil
}

func (e *Executor) checkArgs(account *session.Account, token common.Address, amount *big.Int, opts ExecOptions) error {
	if e == nil || e.gateway == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	if account == nil || account.Key() == nil {
		return xerrors.New(xerrors.CodeAuthFailed, "账户未连接")
	}
	if token == (common.Address{}) {
		return xerrors.New(xerrors.CodeUserInput, "代币地址无效")
	}
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeUserInput, "数量必须大于零")
	}
	if opts.Slippage <= 0 || opts.Slippage > 1 {
		return xerrors.New(xerrors.CodeUserInput, "滑点比例无效")
	}
	return nil
}

func (e *Executor) resolveGasPrice(ctx context.Context, opts ExecOptions) (*big.Int, error) {
	if opts.GasPrice != nil && opts.GasPrice.Sign() > 0 {
		return opts.GasPrice, nil
	}
	return e.gateway.GasPrice(ctx)
}

// quoteMinimumOut 向路由器询价并按滑点折算最小可接受产出。
func (e *Executor) quoteMinimumOut(ctx context.Context, amountIn *big.Int, path []common.Address, slippage float64) (*big.Int, error) {
	data, err := chain.PackGetAmountsOut(amountIn, path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "构造报价查询失败")
	}
	output, err := e.gateway.Call(ctx, e.def.RouterAddress(), data)
	if err != nil {
		return nil, err
	}
	expected, err := chain.UnpackGetAmountsOut(output)
	if err != nil {
		return nil, err
	}
	return ApplySlippage(expected, slippage), nil
}

// ensureAllowance 检查路由器对用户代币的授权额度，
// 不足时提交 approve 并阻塞等待回执，保证同账户串行。
func (e *Executor) ensureAllowance(ctx context.Context, account *session.Account, token common.Address, amount, gasPrice *big.Int) error {
	data, err := chain.PackAllowance(account.Address(), e.def.RouterAddress())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainSubmit, err, "构造授权查询失败")
	}
	output, err := e.gateway.Call(ctx, token, data)
	if err != nil {
		return err
	}
	allowance, err := chain.UnpackAllowance(output)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	approveData, err := chain.PackApprove(e.def.RouterAddress(), amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeChainSubmit, err, "构造授权调用失败")
	}
	receipt, err := e.gateway.SignAndSend(ctx, chain.TxSpec{
		From:     account.Address(),
		To:       token,
		Value:    new(big.Int),
		GasLimit: e.gasLimitApprove,
		GasPrice: gasPrice,
		Data:     approveData,
	}, account.Key())
	if err != nil {
		return err
	}
	if !receipt.Succeeded {
		return xerrors.New(xerrors.CodeChainReverted, "授权交易被回滚", xerrors.WithMetadata("tx_hash", receipt.TxHash.Hex()))
	}
	return nil
}

func (e *Executor) deadlineStamp() *big.Int {
	return big.NewInt(time.Now().Add(e.deadline).Unix())
}

// record 把回执落入成交记录存储，失败只记日志不影响主流程。
func (e *Executor) record(ctx context.Context, userID int64, direction history.Direction, token common.Address, result *Result, mirrored bool) {
	if e.store == nil {
		return
	}
	err := e.store.Append(ctx, &history.Record{
		ID:           result.TradeID,
		UserID:       userID,
		Direction:    direction,
		Token:        token.Hex(),
		AmountIn:     result.AmountIn.String(),
		MinimumOut:   result.MinimumOut.String(),
		TxHash:       result.Receipt.TxHash.Hex(),
		Succeeded:    result.Receipt.Succeeded,
		RevertReason: result.Receipt.RevertReason,
		Mirrored:     mirrored,
	})
	if err != nil {
		logger.L().Error("写入成交记录失败", slog.Any("error", err), slog.String("trade_id", result.TradeID))
	}
}

func revertError(receipt chain.Receipt) error {
	if receipt.RevertReason != "" {
		return xerrors.New(xerrors.CodeChainReverted, receipt.RevertReason)
	}
	return xerrors.New(xerrors.CodeChainReverted, "")
}
