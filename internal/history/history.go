package history

import (
	"context"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Direction 表示一次成交的方向。
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Record 保存一次提交到链上的成交回执。
type Record struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Direction    Direction `json:"direction"`
	Token        string    `json:"token"`
	AmountIn     string    `json:"amount_in"`
	MinimumOut   string    `json:"minimum_out"`
	TxHash       string    `json:"tx_hash"`
	Succeeded    bool      `json:"succeeded"`
	RevertReason string    `json:"revert_reason,omitempty"`
	Mirrored     bool      `json:"mirrored"`
	CreatedAt    int64     `json:"created_at"`
}

// Store 定义成交记录的存储能力。
type Store interface {
	Append(ctx context.Context, record *Record) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*Record, error)
	Close() error
}

// ErrRecordInvalid 表示记录缺少必填字段。
var ErrRecordInvalid = xerrors.New(xerrors.CodeUserInput, "trade record invalid")

func validate(record *Record) error {
	if record == nil {
		return ErrRecordInvalid
	}
	if record.ID == "" || record.UserID == 0 {
		return ErrRecordInvalid
	}
	return nil
}
