package swap

import (
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// NativeDecimals 是链上原生币与标准代币的小数位数。
const NativeDecimals = 18

// ParsePositiveDecimal 校验用户输入的数量串：必须是大于零的十进制数。
func ParsePositiveDecimal(input string) (decimal.Decimal, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeUserInput, "数量不能为空")
	}
	d, err := decimal.NewFromString(input)
	if err != nil {
		return decimal.Decimal{}, xerrors.Wrap(xerrors.CodeUserInput, err, "数量不是合法的十进制数")
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeUserInput, "数量必须大于零")
	}
	return d, nil
}

// ParseSlippagePercent 解析用户输入的滑点百分比，合法区间为 (0, 100]，
// 返回值转换为小数形式的比例。
func ParseSlippagePercent(input string) (float64, error) {
	d, err := ParsePositiveDecimal(input)
	if err != nil {
		return 0, err
	}
	hundred := decimal.NewFromInt(100)
	if d.GreaterThan(hundred) {
		return 0, xerrors.New(xerrors.CodeUserInput, "滑点必须在 (0, 100] 区间内")
	}
	fraction, _ := d.Div(hundred).Float64()
	return fraction, nil
}

// ToBaseUnits 把人类可读的十进制数量精确换算成链上基础单位。
// 换算会放大 decimals 位；若仍有小数余量说明输入超出精度，直接拒绝而不是截断。
func ToBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	shifted := amount.Shift(decimals)
	if !shifted.IsInteger() {
		return nil, xerrors.New(xerrors.CodeUserInput, "数量精度超出代币支持的小数位")
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits 把链上基础单位换算回人类可读形式。
func FromBaseUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}

// ApplySlippage 根据滑点比例计算最小可接受产出。
// 四舍五入到万分比后做整数运算，1.5% 这类二进制下
// 不精确的比例不会被截断成少一个基点。
func ApplySlippage(expected *big.Int, slippage float64) *big.Int {
	if expected == nil {
		return new(big.Int)
	}
	bps := int64(math.Round(slippage * 10000))
	if bps < 0 {
		bps = 0
	}
	if bps > 10000 {
		bps = 10000
	}
	out := new(big.Int).Mul(expected, big.NewInt(10000-bps))
	return out.Div(out, big.NewInt(10000))
}
