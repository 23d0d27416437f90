package ethereum

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"math/big"
	"strings"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/ninjadev0030/tradingbot/internal/chain"
	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Client 基于 go-ethereum 实现 chain.Gateway，适配 Ronin 等 EVM 兼容链。
type Client struct {
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	chainID   *big.Int
}

var _ chain.Gateway = (*Client)(nil)

// NewClient dials the configured RPC endpoint and verifies the chain id.
func NewClient(ctx context.Context, def chain.Definition) (*Client, error) {
	rpcURL := strings.TrimSpace(def.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "连接链节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "获取链 ID 失败")
	}
	if def.ChainID > 0 && chainID.Int64() != def.ChainID {
		rpcClient.Close()
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "节点返回的链 ID 与配置不符")
	}

	return &Client{rpcClient: rpcClient, eth: eth, chainID: chainID}, nil
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// ChainID 返回缓存的链 ID。
func (c *Client) ChainID() *big.Int {
	if c == nil || c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// GasPrice 查询节点建议的 gas 价格。
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "查询 gas 价格失败")
	}
	return price, nil
}

// Balance 查询地址的原生币余额。
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "查询余额失败")
	}
	return balance, nil
}

// Head 返回最新区块的高度与时间戳。
func (c *Client) Head(ctx context.Context) (chain.HeadInfo, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return chain.HeadInfo{}, xerrors.Wrap(xerrors.CodeChainSubmit, err, "查询最新区块失败")
	}
	return chain.HeadInfo{
		Number:    header.Number.Uint64(),
		Timestamp: header.Time,
	}, nil
}

// Call 执行只读合约调用。
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	output, err := c.eth.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "合约调用失败")
	}
	return output, nil
}

// SignAndSend 构造、签名并提交交易，随后阻塞等待回执。
// 私钥仅用于本次签名，不会在客户端内保留。
func (c *Client) SignAndSend(ctx context.Context, spec chain.TxSpec, key *ecdsa.PrivateKey) (chain.Receipt, error) {
	if key == nil {
		return chain.Receipt{}, xerrors.New(xerrors.CodeAuthFailed, "缺少签名私钥")
	}
	if crypto.PubkeyToAddress(key.PublicKey) != spec.From {
		return chain.Receipt{}, xerrors.New(xerrors.CodeAuthFailed, "私钥与交易发送方不匹配")
	}

	nonce, err := c.eth.PendingNonceAt(ctx, spec.From)
	if err != nil {
		return chain.Receipt{}, xerrors.Wrap(xerrors.CodeChainSubmit, err, "查询 nonce 失败")
	}

	tx := types.NewTransaction(nonce, spec.To, spec.Value, spec.GasLimit, spec.GasPrice, spec.Data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return chain.Receipt{}, xerrors.Wrap(xerrors.CodeChainSubmit, err, "交易签名失败")
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return chain.Receipt{}, xerrors.Wrap(xerrors.CodeChainSubmit, err, "交易提交失败")
	}

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return chain.Receipt{}, err
	}

	result := chain.Receipt{
		TxHash:      signed.Hash(),
		Succeeded:   receipt.Status == types.ReceiptStatusSuccessful,
		GasUsed:     receipt.GasUsed,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}
	if !result.Succeeded {
		result.RevertReason = c.revertReason(ctx, spec, receipt.BlockNumber)
	}
	return result, nil
}

// waitMined 轮询交易回执，直到出块或上下文取消。
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !stdErrors.Is(err, gethcore.NotFound) {
			return nil, xerrors.Wrap(xerrors.CodeChainSubmit, err, "查询交易回执失败")
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易回执超时")
		case <-ticker.C:
		}
	}
}

// revertReason 在回执失败时重放调用，尝试取回链上的 revert 原因。
func (c *Client) revertReason(ctx context.Context, spec chain.TxSpec, blockNumber *big.Int) string {
	msg := gethcore.CallMsg{
		From:     spec.From,
		To:       &spec.To,
		Gas:      spec.GasLimit,
		GasPrice: spec.GasPrice,
		Value:    spec.Value,
		Data:     spec.Data,
	}
	_, err := c.eth.CallContract(ctx, msg, blockNumber)
	if err == nil {
		return ""
	}

	var dataErr gethrpc.DataError
	if stdErrors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if reason, decodeErr := abi.UnpackRevert(common.FromHex(encoded)); decodeErr == nil {
				return reason
			}
		}
	}
	return ""
}
