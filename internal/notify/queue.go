package notify

import (
	"context"
	"encoding/json"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Notice 是一条待投递的聊天通知。
type Notice struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// Encode 把通知序列化为队列消息体。
func (n Notice) Encode() ([]byte, error) {
	body, err := json.Marshal(n)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化通知失败")
	}
	return body, nil
}

// DecodeNotice 从队列消息体还原通知。
func DecodeNotice(body []byte) (Notice, error) {
	var n Notice
	if err := json.Unmarshal(body, &n); err != nil {
		return Notice{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "解析通知失败")
	}
	return n, nil
}

// Handler 处理一条从队列取出的通知。
type Handler func(ctx context.Context, notice Notice) error

// Producer 负责向队列投递通知。
type Producer interface {
	Publish(ctx context.Context, notice Notice) error
	Close() error
}

// Consumer 负责从队列中消费通知。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
