package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// routerABIJSON 是 Katana 路由器上本系统用到的最小合约面。
// Katana 是 Uniswap V2 的分叉，把 ETH 命名替换成了 RON。
const routerABIJSON = `[
  {"type":"function","name":"swapExactRONForTokens","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"swapExactTokensForRON","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"type":"function","name":"getAmountsOut","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	routerABI abi.ABI
	erc20ABI  abi.ABI

	// swapBuySelector 是 swapExactRONForTokens 的 4 字节方法选择器，
	// 跟单监听器用它识别被观察钱包的买入交易。
	swapBuySelector []byte
)

func init() {
	var err error
	routerABI, err = abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 router ABI 失败: %v", err))
	}
	erc20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("解析 ERC20 ABI 失败: %v", err))
	}
	swapBuySelector = routerABI.Methods["swapExactRONForTokens"].ID
}

// PackSwapExactRONForTokens 构造原生币换代币的调用数据。
func PackSwapExactRONForTokens(minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return routerABI.Pack("swapExactRONForTokens", minOut, path, to, deadline)
}

// PackSwapExactTokensForRON 构造代币换原生币的调用数据。
func PackSwapExactTokensForRON(amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline *big.Int) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForRON", amountIn, minOut, path, to, deadline)
}

// PackGetAmountsOut 构造路由器报价查询数据。
func PackGetAmountsOut(amountIn *big.Int, path []common.Address) ([]byte, error) {
	return routerABI.Pack("getAmountsOut", amountIn, path)
}

// UnpackGetAmountsOut 解析报价查询结果，返回路径末端的预期产出。
func UnpackGetAmountsOut(output []byte) (*big.Int, error) {
	values, err := routerABI.Unpack("getAmountsOut", output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "解析 getAmountsOut 返回值失败")
	}
	amounts := *abi.ConvertType(values[0], new([]*big.Int)).(*[]*big.Int)
	if len(amounts) == 0 {
		return nil, xerrors.New(xerrors.CodeChainSubmit, "报价返回为空")
	}
	return amounts[len(amounts)-1], nil
}

// PackApprove 构造 ERC20 approve 调用数据。
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// PackAllowance 构造 ERC20 allowance 查询数据。
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// UnpackAllowance 解析 allowance 查询结果。
func UnpackAllowance(output []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("allowance", output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "解析 allowance 返回值失败")
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// PackBalanceOf 构造 ERC20 balanceOf 查询数据。
func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", account)
}

// UnpackBalanceOf 解析 balanceOf 查询结果。
func UnpackBalanceOf(output []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "解析 balanceOf 返回值失败")
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// PackDecimals 构造 ERC20 decimals 查询数据。
func PackDecimals() ([]byte, error) {
	return erc20ABI.Pack("decimals")
}

// UnpackDecimals 解析 decimals 查询结果。
func UnpackDecimals(output []byte) (uint8, error) {
	values, err := erc20ABI.Unpack("decimals", output)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeChainSubmit, err, "解析 decimals 返回值失败")
	}
	return *abi.ConvertType(values[0], new(uint8)).(*uint8), nil
}

// BuySwapCall 是从交易输入数据中解码出的一次买入调用。
type BuySwapCall struct {
	AmountOutMin *big.Int
	Path         []common.Address
	To           common.Address
	Deadline     *big.Int
}

// TokenOut 返回交易路径末端的目标代币地址。
func (c BuySwapCall) TokenOut() common.Address {
	if len(c.Path) == 0 {
		return common.Address{}
	}
	return c.Path[len(c.Path)-1]
}

// IsBuySwap 判断一段交易输入是否为 swapExactRONForTokens 调用。
func IsBuySwap(input []byte) bool {
	return len(input) >= 4 && bytes.Equal(input[:4], swapBuySelector)
}

// DecodeBuySwap 解码 swapExactRONForTokens 的调用参数。
func DecodeBuySwap(input []byte) (BuySwapCall, error) {
	if !IsBuySwap(input) {
		return BuySwapCall{}, xerrors.New(xerrors.CodeUserInput, "不是可识别的买入交易")
	}
	values, err := routerABI.Methods["swapExactRONForTokens"].Inputs.Unpack(input[4:])
	if err != nil {
		return BuySwapCall{}, xerrors.Wrap(xerrors.CodeUserInput, err, "解码买入交易参数失败")
	}
	if len(values) != 4 {
		return BuySwapCall{}, xerrors.New(xerrors.CodeUserInput, "买入交易参数数量不符")
	}
	call := BuySwapCall{
		AmountOutMin: abi.ConvertType(values[0], new(big.Int)).(*big.Int),
		Path:         *abi.ConvertType(values[1], new([]common.Address)).(*[]common.Address),
		To:           *abi.ConvertType(values[2], new(common.Address)).(*common.Address),
		Deadline:     abi.ConvertType(values[3], new(big.Int)).(*big.Int),
	}
	return call, nil
}
