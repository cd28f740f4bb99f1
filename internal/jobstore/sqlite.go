package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"allocexport/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS export_jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// SQLiteStore 单文件持久化任务存储，面向单机部署。
// 记录本体仍是确定性 JSON，status 列仅用于查询过滤。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore 打开（必要时创建）任务数据库
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开任务数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接任务数据库失败: %w", err)
	}

	// SQLite 单连接即可
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化任务表失败: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadTx(ctx context.Context, tx *sql.Tx, id string) (*model.ExportJob, error) {
	var record string
	err := tx.QueryRowContext(ctx, `SELECT record FROM export_jobs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapIO("读取任务记录失败", err)
	}
	return DecodeJob([]byte(record))
}

func (s *SQLiteStore) saveTx(ctx context.Context, tx *sql.Tx, j *model.ExportJob) error {
	data, err := EncodeJob(j)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO export_jobs (id, status, record, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, record = excluded.record, updated_at = excluded.updated_at`,
		j.ID, string(j.Status), string(data), j.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return model.WrapIO("写入任务记录失败", err)
	}
	return nil
}

// mutate 读-改-写放在同一事务里，保证终态检查与写入原子
func (s *SQLiteStore) mutate(ctx context.Context, id string, apply func(existing *model.ExportJob) (*model.ExportJob, error)) (*model.ExportJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.WrapIO("开启事务失败", err)
	}
	defer tx.Rollback()

	existing, err := s.loadTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	j, err := apply(existing)
	if err != nil {
		return nil, err
	}
	if err := s.saveTx(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, model.WrapIO("提交事务失败", err)
	}
	return j, nil
}

// Begin 实现 Store
func (s *SQLiteStore) Begin(ctx context.Context, id, format string, filters map[string]string) (*model.ExportJob, error) {
	return s.mutate(ctx, id, func(existing *model.ExportJob) (*model.ExportJob, error) {
		return applyBegin(existing, id, format, filters, s.now())
	})
}

// Complete 实现 Store
func (s *SQLiteStore) Complete(ctx context.Context, id string, params CompleteParams) (*model.ExportJob, error) {
	return s.mutate(ctx, id, func(existing *model.ExportJob) (*model.ExportJob, error) {
		return applyComplete(existing, params, s.now())
	})
}

// Fail 实现 Store
func (s *SQLiteStore) Fail(ctx context.Context, id string, jerr model.JobError) (*model.ExportJob, error) {
	return s.mutate(ctx, id, func(existing *model.ExportJob) (*model.ExportJob, error) {
		return applyFail(existing, jerr, s.now())
	})
}

// Load 实现 Store
func (s *SQLiteStore) Load(ctx context.Context, id string) (*model.ExportJob, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM export_jobs WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, model.WrapIO("读取任务记录失败", err)
	}
	j, err := DecodeJob([]byte(record))
	if err != nil {
		return nil, false, err
	}
	return j, true, nil
}
