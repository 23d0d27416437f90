package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "github.com/ninjadev0030/tradingbot/internal/errors"
)

// MySQLStore 使用 MySQL 持久化成交记录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS trade_records (
        id VARCHAR(64) PRIMARY KEY,
        user_id BIGINT NOT NULL,
        direction VARCHAR(8) NOT NULL,
        token VARCHAR(64) NOT NULL,
        amount_in VARCHAR(80) NOT NULL,
        minimum_out VARCHAR(80) NOT NULL DEFAULT '',
        tx_hash VARCHAR(66) NOT NULL DEFAULT '',
        succeeded TINYINT(1) NOT NULL DEFAULT 0,
        revert_reason TEXT,
        mirrored TINYINT(1) NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_trade_user (user_id),
        INDEX idx_trade_created (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 trade_records 表失败")
	}
	return nil
}

// Append 插入一条成交记录。
func (s *MySQLStore) Append(ctx context.Context, record *Record) error {
	if err := validate(record); err != nil {
		return err
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO trade_records
        (id, user_id, direction, token, amount_in, minimum_out, tx_hash, succeeded, revert_reason, mirrored, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.UserID,
		record.Direction,
		record.Token,
		record.AmountIn,
		record.MinimumOut,
		record.TxHash,
		record.Succeeded,
		record.RevertReason,
		record.Mirrored,
		record.CreatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入成交记录失败")
	}
	return nil
}

// ListByUser 返回指定用户的成交记录，最新的在前。
func (s *MySQLStore) ListByUser(ctx context.Context, userID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `SELECT id, user_id, direction, token, amount_in, minimum_out, tx_hash, succeeded, revert_reason, mirrored, created_at
        FROM trade_records WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询成交记录失败")
	}
	defer rows.Close()

	records := make([]*Record, 0, limit)
	for rows.Next() {
		var record Record
		var revertReason sql.NullString
		if err := rows.Scan(
			&record.ID,
			&record.UserID,
			&record.Direction,
			&record.Token,
			&record.AmountIn,
			&record.MinimumOut,
			&record.TxHash,
			&record.Succeeded,
			&revertReason,
			&record.Mirrored,
			&record.CreatedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描成交记录失败")
		}
		record.RevertReason = revertReason.String
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历成交记录失败")
	}
	return records, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
