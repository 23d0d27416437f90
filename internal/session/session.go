package session

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Step 表示交易向导当前等待的输入类型。
type Step string

const (
	StepNone             Step = ""
	StepAwaitPrivateKey  Step = "await_private_key"
	StepAwaitTokenBuy    Step = "await_token_buy"
	StepAwaitBuyAmount   Step = "await_buy_amount"
	StepConfirmBuy       Step = "confirm_buy"
	StepAwaitTokenSell   Step = "await_token_sell"
	StepAwaitSellAmount  Step = "await_sell_amount"
	StepConfirmSell      Step = "confirm_sell"
	StepAwaitCopyWallet  Step = "await_copy_wallet"
	StepAwaitCopyLimit   Step = "await_copy_limit"
	StepAwaitGasPref     Step = "await_gas_pref"
	StepAwaitSlippage    Step = "await_slippage"
)

// GasTier 是粗粒度的 gas 档位偏好。
type GasTier string

const (
	GasLow    GasTier = "low"
	GasMedium GasTier = "medium"
	GasHigh   GasTier = "high"
)

// Multiplier 返回档位对应的 gas 价格倍数。
func (t GasTier) Multiplier() int64 {
	switch t {
	case GasMedium:
		return 2
	case GasHigh:
		return 3
	default:
		return 1
	}
}

// ParseGasTier 解析用户选择的档位。
func ParseGasTier(s string) (GasTier, error) {
	switch GasTier(strings.ToLower(strings.TrimSpace(s))) {
	case GasLow:
		return GasLow, nil
	case GasMedium:
		return GasMedium, nil
	case GasHigh:
		return GasHigh, nil
	default:
		return "", xerrors.New(xerrors.CodeUserInput, "gas 档位只能是 low/medium/high")
	}
}

// Account 持有从私钥推导出的账户。私钥材料由 WalletSession 独占，
// 只作为签名调用的只读输入对外暴露，绝不会被序列化。
type Account struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// DeriveAccount 校验私钥材料并推导账户地址。
// 推导成功后原始十六进制串不再被任何地方保留。
func DeriveAccount(material string) (*Account, error) {
	material = strings.TrimSpace(material)
	material = strings.TrimPrefix(material, "0x")
	key, err := crypto.HexToECDSA(material)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAuthFailed, err, "私钥无法推导出账户")
	}
	return &Account{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}, nil
}

// Address 返回账户地址。
func (a *Account) Address() common.Address {
	if a == nil {
		return common.Address{}
	}
	return a.address
}

// Key 返回签名用私钥。仅限交易执行器在签名时读取。
func (a *Account) Key() *ecdsa.PrivateKey {
	if a == nil {
		return nil
	}
	return a.key
}

// Wallet 是一个用户的钱包会话。生命周期与进程一致，不做持久化。
type Wallet struct {
	UserID        int64
	Step          Step
	Account       *Account
	TokenIn       common.Address
	TokenOut      common.Address
	PendingAmount string
}

// Connected 报告会话是否已经完成钱包连接。
func (w *Wallet) Connected() bool {
	return w != nil && w.Account != nil
}

// Clone 返回会话的拷贝，供锁外安全读取。
// Account 推导完成后不可变，拷贝共享同一指针。
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	clone := *w
	return &clone
}

// CopyTrade 是一个用户的跟单会话。
// Limit 为 nil、Slippage 为 0、GasTier 为空表示尚未完成引导式配置。
type CopyTrade struct {
	UserID         int64
	WatchedAddress common.Address
	Active         bool
	Limit          *big.Int
	GasTier        GasTier
	Slippage       float64
}

// 未完成引导式配置时激活跟单采用的兜底参数。
var defaultCopyLimit = new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))

const (
	defaultCopySlippage = 0.05
	defaultCopyGasTier  = GasLow
)

// Configured 报告跟单参数是否全部设置完毕。
func (c *CopyTrade) Configured() bool {
	return c != nil && c.Limit != nil && c.Slippage > 0 && c.GasTier != ""
}

// ApplyDefaults 在未完成引导配置就激活时填入安全默认值。
func (c *CopyTrade) ApplyDefaults() {
	if c == nil {
		return
	}
	if c.Limit == nil {
		c.Limit = new(big.Int).Set(defaultCopyLimit)
	}
	if c.Slippage <= 0 || c.Slippage > 1 {
		c.Slippage = defaultCopySlippage
	}
	if c.GasTier == "" {
		c.GasTier = defaultCopyGasTier
	}
}

// Clone 返回会话的深拷贝，供监听器在锁外安全读取。
func (c *CopyTrade) Clone() *CopyTrade {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Limit != nil {
		clone.Limit = new(big.Int).Set(c.Limit)
	}
	return &clone
}
