package swap

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
	"github.com/ninjadev0030/tradingbot/internal/history"
	"github.com/ninjadev0030/tradingbot/internal/session"
)

var testDef = chain.Definition{
	Type:          "ronin",
	RPCURL:        "http://localhost:8545",
	ChainID:       2020,
	NativeSymbol:  "RON",
	WrappedNative: "0xe514d9deb7966c8be0ca922de8a064264ea6bcd4",
	Router:        "0x7d0556d55ca1a92708681e2e231733ebd922597d",
}

// fakeGateway 按方法选择器分发只读调用，并按预设回执顺序应答提交。
type fakeGateway struct {
	gasPrice   *big.Int
	balance    *big.Int
	amountsOut *big.Int
	allowance  *big.Int
	tokenBal   *big.Int
	receipts   []chain.Receipt
	sent       []chain.TxSpec
}

func encodeWord(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

func encodeUintArray(vals ...*big.Int) []byte {
	out := encodeWord(big.NewInt(32))
	out = append(out, encodeWord(big.NewInt(int64(len(vals))))...)
	for _, v := range vals {
		out = append(out, encodeWord(v)...)
	}
	return out
}

func (g *fakeGateway) GasPrice(context.Context) (*big.Int, error) {
	if g.gasPrice == nil {
		return big.NewInt(20_000_000_000), nil
	}
	return g.gasPrice, nil
}

func (g *fakeGateway) Balance(context.Context, common.Address) (*big.Int, error) {
	if g.balance == nil {
		return big.NewInt(0), nil
	}
	return g.balance, nil
}

func (g *fakeGateway) Head(context.Context) (chain.HeadInfo, error) {
	return chain.HeadInfo{Number: 1, Timestamp: 1}, nil
}

func (g *fakeGateway) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	quoteSel, _ := chain.PackGetAmountsOut(big.NewInt(1), []common.Address{{}, {}})
	allowanceSel, _ := chain.PackAllowance(common.Address{}, common.Address{})
	balanceSel, _ := chain.PackBalanceOf(common.Address{})
	decimalsSel, _ := chain.PackDecimals()

	switch {
	case bytes.HasPrefix(data, quoteSel[:4]):
		return encodeUintArray(big.NewInt(0), g.amountsOut), nil
	case bytes.HasPrefix(data, allowanceSel[:4]):
		v := g.allowance
		if v == nil {
			v = big.NewInt(0)
		}
		return encodeWord(v), nil
	case bytes.HasPrefix(data, balanceSel[:4]):
		v := g.tokenBal
		if v == nil {
			v = big.NewInt(0)
		}
		return encodeWord(v), nil
	case bytes.HasPrefix(data, decimalsSel[:4]):
		return encodeWord(big.NewInt(18)), nil
	default:
		return nil, xerrors.New(xerrors.CodeChainSubmit, "unexpected call")
	}
}

func (g *fakeGateway) SignAndSend(_ context.Context, spec chain.TxSpec, key *ecdsa.PrivateKey) (chain.Receipt, error) {
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

func (g *fakeGateway) ChainID() *big.Int { return big.NewInt(2020) }
func (g *fakeGateway) Close()            {}

func testAccount(t *testing.T) *session.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	account, err := session.DeriveAccount(common.Bytes2Hex(crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("derive account: %v", err)
	}
	return account
}

func TestBuyComputesMinimumOutAndRecords(t *testing.T) {
	gw := &fakeGateway{amountsOut: big.NewInt(10000), tokenBal: big.NewInt(12345)}
	store := history.NewMemoryStore()
	e := NewExecutor(gw, testDef, WithHistory(store))

	account := testAccount(t)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	result, err := e.Buy(context.Background(), 7, account, token, big.NewInt(5e9), ExecOptions{Slippage: 0.05})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if result.MinimumOut.Int64() != 9500 {
		t.Fatalf("expected min out 9500, got %s", result.MinimumOut)
	}
	if result.NewBalance == nil || result.NewBalance.Int64() != 12345 {
		t.Fatalf("expected new balance from token contract, got %v", result.NewBalance)
	}

	if len(gw.sent) != 1 {
		t.Fatalf("expected exactly one submitted transaction, got %d", len(gw.sent))
	}
	spec := gw.sent[0]
	if spec.To != testDef.RouterAddress() {
		t.Fatalf("swap must target the router, got %s", spec.To.Hex())
	}
	if spec.Value.Int64() != 5e9 {
		t.Fatalf("expected native value attached, got %s", spec.Value)
	}
	if !chain.IsBuySwap(spec.Data) {
		t.Fatalf("expected swapExactRONForTokens call data")
	}
	call, err := chain.DecodeBuySwap(spec.Data)
	if err != nil {
		t.Fatalf("decode submitted call: %v", err)
	}
	if call.TokenOut() != token {
		t.Fatalf("expected path ending at %s, got %s", token.Hex(), call.TokenOut().Hex())
	}
	if call.Path[0] != testDef.WrappedNativeAddress() {
		t.Fatalf("buy path must start at wrapped native, got %s", call.Path[0].Hex())
	}

	records, err := store.ListByUser(context.Background(), 7, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(records) != 1 || records[0].Direction != history.DirectionBuy || !records[0].Succeeded {
		t.Fatalf("unexpected history: %+v", records)
	}
}

func TestBuyGasPriceOverride(t *testing.T) {
	gw := &fakeGateway{amountsOut: big.NewInt(100)}
	e := NewExecutor(gw, testDef)

	override := big.NewInt(60_000_000_000)
	_, err := e.Buy(context.Background(), 1, testAccount(t), common.HexToAddress("0xaa"), big.NewInt(1), ExecOptions{Slippage: 0.05, GasPrice: override})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if gw.sent[0].GasPrice.Cmp(override) != 0 {
		t.Fatalf("expected override gas price, got %s", gw.sent[0].GasPrice)
	}
}

func TestBuyRevertSurfacesReason(t *testing.T) {
	gw := &fakeGateway{
		amountsOut: big.NewInt(100),
		receipts: []chain.Receipt{{
			TxHash:       common.HexToHash("0x2"),
			Succeeded:    false,
			RevertReason: "INSUFFICIENT_OUTPUT_AMOUNT",
		}},
	}
	store := history.NewMemoryStore()
	e := NewExecutor(gw, testDef, WithHistory(store))

	result, err := e.Buy(context.Background(), 3, testAccount(t), common.HexToAddress("0xaa"), big.NewInt(1), ExecOptions{Slippage: 0.05})
	if err == nil {
		t.Fatalf("expected revert error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeChainReverted {
		t.Fatalf("expected chain reverted code, got %v", xerrors.CodeOf(err))
	}
	if e, ok := err.(*xerrors.Error); !ok || e.Message() != "INSUFFICIENT_OUTPUT_AMOUNT" {
		t.Fatalf("expected decoded revert reason, got %v", err)
	}
	if result == nil || result.Receipt.Succeeded {
		t.Fatalf("expected failed receipt in result")
	}

	records, _ := store.ListByUser(context.Background(), 3, 10)
	if len(records) != 1 || records[0].Succeeded || records[0].RevertReason != "INSUFFICIENT_OUTPUT_AMOUNT" {
		t.Fatalf("failed trades must still be recorded: %+v", records)
	}
}

func TestSellApprovesBeforeSwap(t *testing.T) {
	gw := &fakeGateway{amountsOut: big.NewInt(500), allowance: big.NewInt(0), balance: big.NewInt(777)}
	e := NewExecutor(gw, testDef)

	token := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	result, err := e.Sell(context.Background(), 9, testAccount(t), token, big.NewInt(1000), ExecOptions{Slippage: 0.1})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if len(gw.sent) != 2 {
		t.Fatalf("expected approve then swap, got %d transactions", len(gw.sent))
	}
	if gw.sent[0].To != token {
		t.Fatalf("first transaction must approve on the token, got %s", gw.sent[0].To.Hex())
	}
	if gw.sent[1].To != testDef.RouterAddress() {
		t.Fatalf("second transaction must hit the router, got %s", gw.sent[1].To.Hex())
	}
	if gw.sent[1].Value.Sign() != 0 {
		t.Fatalf("sell swap must not attach native value")
	}
	if result.MinimumOut.Int64() != 450 {
		t.Fatalf("expected min out 450, got %s", result.MinimumOut)
	}
	if result.NewBalance == nil || result.NewBalance.Int64() != 777 {
		t.Fatalf("expected native balance after sell, got %v", result.NewBalance)
	}
}

func TestSellSkipsApproveWhenAllowanceSuffices(t *testing.T) {
	gw := &fakeGateway{amountsOut: big.NewInt(500), allowance: big.NewInt(1_000_000)}
	e := NewExecutor(gw, testDef)

	_, err := e.Sell(context.Background(), 9, testAccount(t), common.HexToAddress("0xbb"), big.NewInt(1000), ExecOptions{Slippage: 0.1})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if len(gw.sent) != 1 {
		t.Fatalf("expected a single swap transaction, got %d", len(gw.sent))
	}
}

func TestExecutorRejectsBadArguments(t *testing.T) {
	e := NewExecutor(&fakeGateway{}, testDef)
	account := testAccount(t)

	if _, err := e.Buy(context.Background(), 1, nil, common.HexToAddress("0xaa"), big.NewInt(1), ExecOptions{Slippage: 0.05}); xerrors.CodeOf(err) != xerrors.CodeAuthFailed {
		t.Fatalf("expected auth failure for missing account, got %v", err)
	}
	if _, err := e.Buy(context.Background(), 1, account, common.Address{}, big.NewInt(1), ExecOptions{Slippage: 0.05}); xerrors.CodeOf(err) != xerrors.CodeUserInput {
		t.Fatalf("expected rejection of zero token, got %v", err)
	}
	if _, err := e.Buy(context.Background(), 1, account, common.HexToAddress("0xaa"), big.NewInt(0), ExecOptions{Slippage: 0.05}); xerrors.CodeOf(err) != xerrors.CodeUserInput {
		t.Fatalf("expected rejection of zero amount, got %v", err)
	}
	if _, err := e.Buy(context.Background(), 1, account, common.HexToAddress("0xaa"), big.NewInt(1), ExecOptions{Slippage: 0}); xerrors.CodeOf(err) != xerrors.CodeUserInput {
		t.Fatalf("expected rejection of zero slippage, got %v", err)
	}
}
