package wizard

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/history"
	"github.com/ninjadev0030/tradingbot/internal/session"
	"github.com/ninjadev0030/tradingbot/internal/swap"
)

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testDef = chain.Definition{
	Type:          "ronin",
	RPCURL:        "http://localhost:8545",
	ChainID:       2020,
	NativeSymbol:  "RON",
	WrappedNative: "0xe514d9deb7966c8be0ca922de8a064264ea6bcd4",
	Router:        "0x7d0556d55ca1a92708681e2e231733ebd922597d",
}

type stubGateway struct {
	receipts []chain.Receipt
	sent     []chain.TxSpec
}

func encodeWord(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func (g *stubGateway) GasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

func (g *stubGateway) Balance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)), nil
}

func (g *stubGateway) Head(context.Context) (chain.HeadInfo, error) {
	return chain.HeadInfo{Number: 1, Timestamp: 1}, nil
}

func (g *stubGateway) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	quote, _ := chain.PackGetAmountsOut(big.NewInt(1), []common.Address{{}, {}})
	allowance, _ := chain.PackAllowance(common.Address{}, common.Address{})
	balance, _ := chain.PackBalanceOf(common.Address{})
	decimals, _ := chain.PackDecimals()

	switch {
	case bytes.HasPrefix(data, quote[:4]):
		out := encodeWord(big.NewInt(32))
		out = append(out, encodeWord(big.NewInt(2))...)
		out = append(out, encodeWord(big.NewInt(0))...)
		out = append(out, encodeWord(big.NewInt(10000))...)
		return out, nil
	case bytes.HasPrefix(data, allowance[:4]):
		return encodeWord(new(big.Int).Lsh(big.NewInt(1), 128)), nil
	case bytes.HasPrefix(data, balance[:4]):
		return encodeWord(big.NewInt(5000)), nil
	case bytes.HasPrefix(data, decimals[:4]):
		return encodeWord(big.NewInt(18)), nil
	default:
		return nil, xerrors.New(xerrors.CodeChainSubmit, "unexpected call")
	}
}

func (g *stubGateway) SignAndSend(_ context.Context, spec chain.TxSpec, key *ecdsa.PrivateKey) (chain.Receipt, error) {
	if key == nil {
		return chain.Receipt{}, xerrors.New(xerrors.CodeAuthFailed, "missing key")
	}
	g.sent = append(g.sent, spec)
	if len(g.receipts) == 0 {
		return chain.Receipt{TxHash: common.HexToHash("0x1"), Succeeded: true}, nil
	}
	receipt := g.receipts[0]
	g.receipts = g.receipts[1:]
	return receipt, nil
}

func (g *stubGateway) ChainID() *big.Int { return big.NewInt(2020) }
func (g *stubGateway) Close()            {}

func newTestWizard(gw *stubGateway) (*Wizard, *session.Registry) {
	sessions := session.NewRegistry()
	store := history.NewMemoryStore()
	executor := swap.NewExecutor(gw, testDef, swap.WithHistory(store))
	wz := New(sessions, executor, gw, store, testDef,
		[]string{"10", "25", "50", "100"}, []string{"1", "5", "10", "25"}, 0.05)
	return wz, sessions
}

func repliesContain(replies []Reply, substr string) bool {
	for _, r := range replies {
		if strings.Contains(r.Text, substr) {
			return true
		}
	}
	return false
}

func stepOf(t *testing.T, sessions *session.Registry, userID int64) session.Step {
	t.Helper()
	w, ok := sessions.Wallet(userID)
	if !ok {
		return session.StepNone
	}
	return w.Step
}

func connect(t *testing.T, wz *Wizard, userID int64) {
	t.Helper()
	ctx := context.Background()
	wz.HandleAction(ctx, userID, ActionConnect)
	replies := wz.HandleText(ctx, userID, testPrivateKey)
	if !repliesContain(replies, "Wallet connected") {
		t.Fatalf("expected connection confirmation, got %+v", replies)
	}
}

func TestConnectFlow(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()

	wz.HandleAction(ctx, 1, ActionConnect)
	if stepOf(t, sessions, 1) != session.StepAwaitPrivateKey {
		t.Fatalf("expected await private key step")
	}

	// 无效私钥：停留在原状态并提示。
	replies := wz.HandleText(ctx, 1, "garbage")
	if !repliesContain(replies, "not look like a valid private key") {
		t.Fatalf("expected key rejection, got %+v", replies)
	}
	if stepOf(t, sessions, 1) != session.StepAwaitPrivateKey {
		t.Fatalf("invalid key must not advance the state")
	}

	account, err := session.DeriveAccount(testPrivateKey)
	if err != nil {
		t.Fatalf("derive reference account: %v", err)
	}
	replies = wz.HandleText(ctx, 1, testPrivateKey)
	if !repliesContain(replies, account.Address().Hex()) {
		t.Fatalf("reply must show the derived address, got %+v", replies)
	}
	w, _ := sessions.Wallet(1)
	if !w.Connected() || w.Step != session.StepNone {
		t.Fatalf("expected connected session, got %+v", w)
	}
}

func TestBuyScenario(t *testing.T) {
	gw := &stubGateway{}
	wz, sessions := newTestWizard(gw)
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionBuy)
	if stepOf(t, sessions, 1) != session.StepAwaitTokenBuy {
		t.Fatalf("expected await token step")
	}

	replies := wz.HandleText(ctx, 1, "not-an-address")
	if !repliesContain(replies, "not a valid token address") {
		t.Fatalf("expected address rejection, got %+v", replies)
	}
	if stepOf(t, sessions, 1) != session.StepAwaitTokenBuy {
		t.Fatalf("invalid address must not advance the state")
	}

	replies = wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000aa")
	if stepOf(t, sessions, 1) != session.StepAwaitBuyAmount {
		t.Fatalf("expected amount step after valid address")
	}
	if len(replies) != 1 || len(replies[0].Keyboard) == 0 {
		t.Fatalf("expected preset keyboard, got %+v", replies)
	}
	if replies[0].Keyboard[0][2].Action != actionBuyPresetPrefix+"50" {
		t.Fatalf("expected 50 preset, got %+v", replies[0].Keyboard[0])
	}

	replies = wz.HandleAction(ctx, 1, actionBuyPresetPrefix+"50")
	if stepOf(t, sessions, 1) != session.StepConfirmBuy {
		t.Fatalf("expected confirming step after preset")
	}
	if !repliesContain(replies, "Buy 50 RON") {
		t.Fatalf("confirmation must restate the amount, got %+v", replies)
	}

	replies = wz.HandleAction(ctx, 1, ActionConfirm)
	if !repliesContain(replies, "Buy confirmed") {
		t.Fatalf("expected success message, got %+v", replies)
	}
	if stepOf(t, sessions, 1) != session.StepNone {
		t.Fatalf("confirming state must be exited after execution")
	}
	if len(gw.sent) != 1 {
		t.Fatalf("expected one submitted swap, got %d", len(gw.sent))
	}
	if gw.sent[0].Value.Cmp(new(big.Int).Mul(big.NewInt(50), big.NewInt(1e18))) != 0 {
		t.Fatalf("expected 50 RON in base units, got %s", gw.sent[0].Value)
	}

	// 成功之后账户保留，可继续交易。
	w, _ := sessions.Wallet(1)
	if !w.Connected() {
		t.Fatalf("account must survive a successful trade")
	}
}

func TestBuyRevertShowsReasonAndClearsStep(t *testing.T) {
	gw := &stubGateway{receipts: []chain.Receipt{{
		TxHash:       common.HexToHash("0x2"),
		Succeeded:    false,
		RevertReason: "INSUFFICIENT_OUTPUT_AMOUNT",
	}}}
	wz, sessions := newTestWizard(gw)
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionBuy)
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000aa")
	wz.HandleText(ctx, 1, "0.5")
	replies := wz.HandleAction(ctx, 1, ActionConfirm)

	if !repliesContain(replies, "INSUFFICIENT_OUTPUT_AMOUNT") {
		t.Fatalf("user must see the decoded revert reason, got %+v", replies)
	}
	if stepOf(t, sessions, 1) != session.StepNone {
		t.Fatalf("confirming state must be exited on failure too")
	}
}

func TestConfirmWithoutPendingTradeIsExpired(t *testing.T) {
	gw := &stubGateway{}
	wz, _ := newTestWizard(gw)
	ctx := context.Background()
	connect(t, wz, 1)

	replies := wz.HandleAction(ctx, 1, ActionConfirm)
	if !repliesContain(replies, "Session expired") {
		t.Fatalf("expected session expired message, got %+v", replies)
	}
	if len(gw.sent) != 0 {
		t.Fatalf("expired confirm must never reach the chain")
	}
}

func TestConfirmNeverDoubleExecutes(t *testing.T) {
	gw := &stubGateway{}
	wz, _ := newTestWizard(gw)
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionBuy)
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000aa")
	wz.HandleText(ctx, 1, "10")
	wz.HandleAction(ctx, 1, ActionConfirm)
	replies := wz.HandleAction(ctx, 1, ActionConfirm)

	if len(gw.sent) != 1 {
		t.Fatalf("second confirm must not execute again, got %d submissions", len(gw.sent))
	}
	if !repliesContain(replies, "Session expired") {
		t.Fatalf("expected session expired on repeat confirm, got %+v", replies)
	}
}

func TestAmountValidation(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionBuy)
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000aa")

	for _, input := range []string{"abc", "-1", "0", ""} {
		wz.HandleText(ctx, 1, input)
		if stepOf(t, sessions, 1) != session.StepAwaitBuyAmount {
			t.Fatalf("input %q must not advance the amount state", input)
		}
	}

	wz.HandleText(ctx, 1, "100.25")
	if stepOf(t, sessions, 1) != session.StepConfirmBuy {
		t.Fatalf("valid amount must advance to confirmation")
	}
}

func TestCancelKeepsAccount(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionBuy)
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000aa")
	wz.HandleAction(ctx, 1, ActionCancel)

	w, ok := sessions.Wallet(1)
	if !ok || !w.Connected() {
		t.Fatalf("cancel must keep the connected account")
	}
	if w.Step != session.StepNone || w.TokenOut != (common.Address{}) {
		t.Fatalf("cancel must clear the pending step, got %+v", w)
	}

	// 从未连接过的会话取消后直接消失。
	wz.HandleAction(ctx, 2, ActionConnect)
	wz.HandleAction(ctx, 2, ActionCancel)
	if _, ok := sessions.Wallet(2); ok {
		t.Fatalf("cancel of an unconnected session must delete it")
	}
}

func TestSellFlow(t *testing.T) {
	gw := &stubGateway{}
	wz, sessions := newTestWizard(gw)
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionSell)
	if stepOf(t, sessions, 1) != session.StepAwaitTokenSell {
		t.Fatalf("expected await sell token step")
	}
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000bb")
	if stepOf(t, sessions, 1) != session.StepAwaitSellAmount {
		t.Fatalf("expected sell amount step")
	}
	wz.HandleText(ctx, 1, "2.5")
	if stepOf(t, sessions, 1) != session.StepConfirmSell {
		t.Fatalf("expected sell confirmation step")
	}

	replies := wz.HandleAction(ctx, 1, ActionConfirm)
	if !repliesContain(replies, "Sell confirmed") {
		t.Fatalf("expected sell success, got %+v", replies)
	}
	// stub 的授权额度充足，只应提交一笔兑换交易。
	if len(gw.sent) != 1 {
		t.Fatalf("expected one submission with sufficient allowance, got %d", len(gw.sent))
	}
}

func TestCopyTradeSetupFlow(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionCopySetup)
	if stepOf(t, sessions, 1) != session.StepAwaitCopyWallet {
		t.Fatalf("expected await copy wallet step")
	}

	replies := wz.HandleText(ctx, 1, "nope")
	if !repliesContain(replies, "not a valid wallet address") {
		t.Fatalf("expected address rejection, got %+v", replies)
	}

	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000cc")
	if stepOf(t, sessions, 1) != session.StepAwaitCopyLimit {
		t.Fatalf("expected limit step")
	}

	wz.HandleAction(ctx, 1, actionLimitPresetPrefix+"5")
	if stepOf(t, sessions, 1) != session.StepAwaitGasPref {
		t.Fatalf("expected gas step after limit preset")
	}

	wz.HandleAction(ctx, 1, actionGasPrefix+"high")
	if stepOf(t, sessions, 1) != session.StepAwaitSlippage {
		t.Fatalf("expected slippage step")
	}

	// 非法滑点被拒绝。
	for _, input := range []string{"0", "-5", "150"} {
		wz.HandleText(ctx, 1, input)
		if stepOf(t, sessions, 1) != session.StepAwaitSlippage {
			t.Fatalf("slippage %q must not advance the state", input)
		}
	}

	wz.HandleText(ctx, 1, "5")
	if stepOf(t, sessions, 1) != session.StepNone {
		t.Fatalf("setup must finish back at connected")
	}

	c, ok := sessions.CopyTrade(1)
	if !ok || !c.Configured() {
		t.Fatalf("expected fully configured copy session, got %+v", c)
	}
	if c.Active {
		t.Fatalf("setup alone must not activate mirroring")
	}
	if c.GasTier != session.GasHigh || c.Slippage != 0.05 {
		t.Fatalf("unexpected settings: %+v", c)
	}
	want := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))
	if c.Limit.Cmp(want) != 0 {
		t.Fatalf("expected limit %s, got %s", want, c.Limit)
	}

	wz.HandleAction(ctx, 1, ActionCopyActivate)
	c, _ = sessions.CopyTrade(1)
	if !c.Active {
		t.Fatalf("expected active session after activation")
	}

	wz.HandleAction(ctx, 1, ActionCopyPause)
	c, _ = sessions.CopyTrade(1)
	if c.Active || c.Limit.Cmp(want) != 0 || c.GasTier != session.GasHigh {
		t.Fatalf("pause must only flip active, got %+v", c)
	}
}

func TestAdHocActivationFallsBackToDefaults(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()
	connect(t, wz, 1)

	wz.HandleAction(ctx, 1, ActionCopySetup)
	wz.HandleText(ctx, 1, "0x00000000000000000000000000000000000000cc")

	// 只填了被跟单地址就激活，缺口用安全默认值补齐。
	replies := wz.HandleAction(ctx, 1, ActionCopyActivate)
	if !repliesContain(replies, "safe defaults") {
		t.Fatalf("expected defaults notice, got %+v", replies)
	}
	c, _ := sessions.CopyTrade(1)
	if !c.Active || !c.Configured() {
		t.Fatalf("expected active session with defaults, got %+v", c)
	}
	if c.GasTier != session.GasLow || c.Slippage != 0.05 {
		t.Fatalf("unexpected fallback settings: %+v", c)
	}
}

func TestActivateWithoutSetupIsRejected(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()
	connect(t, wz, 1)

	replies := wz.HandleAction(ctx, 1, ActionCopyActivate)
	if !repliesContain(replies, "Set up copy trading first") {
		t.Fatalf("expected setup prompt, got %+v", replies)
	}
	if c, ok := sessions.CopyTrade(1); ok && c.Active {
		t.Fatalf("activation without a watched address must not succeed")
	}
}

func TestTradeRequiresConnection(t *testing.T) {
	wz, sessions := newTestWizard(&stubGateway{})
	ctx := context.Background()

	replies := wz.HandleAction(ctx, 1, ActionBuy)
	if !repliesContain(replies, "Connect a wallet first") {
		t.Fatalf("expected connect prompt, got %+v", replies)
	}
	if _, ok := sessions.Wallet(1); ok {
		t.Fatalf("rejected trade must not leave an empty session behind")
	}
}
