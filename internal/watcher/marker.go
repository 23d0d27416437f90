package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// Marker 记录某个用户已经镜像过的交易哈希，防止同一笔被重复跟单。
type Marker interface {
	// Seen 报告哈希是否已被该用户镜像过。
	Seen(ctx context.Context, userID int64, txHash string) (bool, error)
	// Mark 记录哈希已被镜像。
	Mark(ctx context.Context, userID int64, txHash string) error
	// Close 释放底层资源。
	Close() error
}

// MemoryMarker 把已镜像的哈希保存在进程内存里，适合单实例部署与测试。
type MemoryMarker struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryMarker 创建内存标记存储。
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{seen: make(map[string]struct{})}
}

func markerKey(userID int64, txHash string) string {
	return fmt.Sprintf("%d:%s", userID, txHash)
}

// Seen 实现 Marker。
func (m *MemoryMarker) Seen(_ context.Context, userID int64, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[markerKey(userID, txHash)]
	return ok, nil
}

// Mark 实现 Marker。
func (m *MemoryMarker) Mark(_ context.Context, userID int64, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[markerKey(userID, txHash)] = struct{}{}
	return nil
}

// Close 实现 Marker。
func (m *MemoryMarker) Close() error {
	return nil
}

// RedisMarkerConfig 描述 Redis 标记存储的连接参数。
type RedisMarkerConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// TTL 限定记录的保留时长，零值表示保留七天。
	TTL time.Duration
}

// RedisMarker 把已镜像的哈希写入 Redis，进程重启后依然去重。
type RedisMarker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMarker 创建 Redis 标记存储并验证连通性。
func NewRedisMarker(cfg RedisMarkerConfig) (*RedisMarker, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tradingbot:mirrored"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisMarker{client: client, prefix: prefix, ttl: ttl}, nil
}

func (m *RedisMarker) key(userID int64, txHash string) string {
	return fmt.Sprintf("%s:%d:%s", m.prefix, userID, txHash)
}

// Seen 实现 Marker。
func (m *RedisMarker) Seen(ctx context.Context, userID int64, txHash string) (bool, error) {
	n, err := m.client.Exists(ctx, m.key(userID, txHash)).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询镜像标记失败")
	}
	return n > 0, nil
}

// Mark 实现 Marker。
func (m *RedisMarker) Mark(ctx context.Context, userID int64, txHash string) error {
	if err := m.client.Set(ctx, m.key(userID, txHash), 1, m.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入镜像标记失败")
	}
	return nil
}

// Close 实现 Marker。
func (m *RedisMarker) Close() error {
	return m.client.Close()
}
