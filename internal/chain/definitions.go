package chain

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Definitions models the structure of configs/chains.yaml.
type Definitions struct {
	Chains map[string]Definition `yaml:"chains"`
}

// Definition describes a single chain endpoint plus the swap surface on it.
type Definition struct {
	Type          string `yaml:"type"`
	RPCURL        string `yaml:"rpc_url"`
	ExplorerAPI   string `yaml:"explorer_api"`
	ChainID       int64  `yaml:"chain_id"`
	NativeSymbol  string `yaml:"native_symbol"`
	WrappedNative string `yaml:"wrapped_native"`
	Router        string `yaml:"router"`
	Description   string `yaml:"description"`
}

// LoadDefinitions parses the YAML file containing chain metadata.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{Chains: map[string]Definition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取链配置失败")
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析链配置失败")
	}
	if defs.Chains == nil {
		defs.Chains = map[string]Definition{}
	}
	return defs, nil
}

// Select 返回指定名称的链定义，并校验交易所需字段是否齐全。
// 缺失路由器或 RPC 配置属于致命错误，系统不应继续启动。
func (d Definitions) Select(name string) (Definition, error) {
	def, ok := d.Chains[name]
	if !ok {
		return Definition{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未定义的链: %s", name))
	}
	if strings.TrimSpace(def.RPCURL) == "" {
		return Definition{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("链 %s 缺少 rpc_url", name))
	}
	if def.ChainID <= 0 {
		return Definition{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("链 %s 缺少 chain_id", name))
	}
	if !common.IsHexAddress(def.Router) {
		return Definition{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("链 %s 的 router 地址无效", name))
	}
	if !common.IsHexAddress(def.WrappedNative) {
		return Definition{}, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("链 %s 的 wrapped_native 地址无效", name))
	}
	if def.NativeSymbol == "" {
		def.NativeSymbol = "RON"
	}
	return def, nil
}

// RouterAddress 返回解析后的路由器合约地址。
func (d Definition) RouterAddress() common.Address {
	return common.HexToAddress(d.Router)
}

// WrappedNativeAddress 返回包装原生币的合约地址。
func (d Definition) WrappedNativeAddress() common.Address {
	return common.HexToAddress(d.WrappedNative)
}
