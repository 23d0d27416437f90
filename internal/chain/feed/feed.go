package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Transaction 是行情源返回的一条链上交易摘要。
type Transaction struct {
	Hash           common.Hash
	Input          []byte
	BlockTimestamp uint64
	Value          *big.Int
}

// Feed 定义跟单监听器消费的行情源能力：
// 返回按时间升序排列（最新一条在末尾）的近期交易。
type Feed interface {
	RecentTransactions(ctx context.Context, addr common.Address, limit int) ([]Transaction, error)
}

// Client 通过区块浏览器的 HTTP API 拉取地址的近期交易。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient 创建行情源客户端。
func NewClient(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "未配置行情源地址")
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// explorerTx 对应浏览器 API 的交易条目。
type explorerTx struct {
	Hash      string `json:"hash"`
	Input     string `json:"input"`
	BlockTime uint64 `json:"blockTime"`
	Value     string `json:"value"`
}

type explorerResponse struct {
	Result struct {
		Items []explorerTx `json:"items"`
	} `json:"result"`
}

// RecentTransactions 实现 Feed 接口。
func (c *Client) RecentTransactions(ctx context.Context, addr common.Address, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 1
	}
	url := fmt.Sprintf("%s/accounts/%s/txs?limit=%d", c.baseURL, strings.ToLower(addr.Hex()), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFeedUnavailable, err, "构造行情请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFeedUnavailable, err, "请求行情源失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.New(xerrors.CodeFeedUnavailable, fmt.Sprintf("行情源返回状态 %d", resp.StatusCode))
	}

	var payload explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeFeedUnavailable, err, "解析行情响应失败")
	}

	txs := make([]Transaction, 0, len(payload.Result.Items))
	for _, item := range payload.Result.Items {
		value := new(big.Int)
		if item.Value != "" {
			if _, ok := value.SetString(item.Value, 10); !ok {
				value = new(big.Int)
			}
		}
		txs = append(txs, Transaction{
			Hash:           common.HexToHash(item.Hash),
			Input:          common.FromHex(item.Input),
			BlockTimestamp: item.BlockTime,
			Value:          value,
		})
	}
	// 浏览器按最新在前返回，这里翻转成最新在末尾的约定顺序。
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs, nil
}
