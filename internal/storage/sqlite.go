package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"statuswatch/internal/monitor"

	_ "modernc.org/sqlite" // 纯Go实现的SQLite驱动
)

// SQLiteStorage SQLite存储实现
type SQLiteStorage struct {
	db  *sql.DB
	ctx context.Context
}

// NewSQLiteStorage 创建SQLite存储
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	// 使用WAL模式和 busy_timeout 解决并发锁问题
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 设置连接池参数（WAL模式支持更好的并发）
	db.SetMaxOpenConns(1) // SQLite建议单个写连接
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &SQLiteStorage{db: db, ctx: context.Background()}, nil
}

// WithContext 返回绑定指定 context 的存储实例
func (s *SQLiteStorage) WithContext(ctx context.Context) Storage {
	if ctx == nil {
		return s
	}
	return &SQLiteStorage{
		db:  s.db,
		ctx: ctx,
	}
}

// effectiveCtx 返回有效的 context
func (s *SQLiteStorage) effectiveCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Init 初始化数据库表
func (s *SQLiteStorage) Init() error {
	ctx := s.effectiveCtx()
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		at_ms INTEGER NOT NULL,
		state INTEGER NOT NULL,
		response_time_ms INTEGER,
		response_text TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_monitor_events_name_at
	ON monitor_events(name, at_ms DESC);

	CREATE INDEX IF NOT EXISTS idx_monitor_events_at
	ON monitor_events(at_ms);

	CREATE TABLE IF NOT EXISTS monitor_last_seen (
		name TEXT PRIMARY KEY,
		last_seen_up_ms INTEGER,
		last_seen_down_ms INTEGER
	);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化数据库失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveEvents 在一个事务内批量写入事件
func (s *SQLiteStorage) SaveEvents(batch []NamedEvent) error {
	if len(batch) == 0 {
		return nil
	}
	ctx := s.effectiveCtx()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO monitor_events (name, at_ms, state, response_time_ms, response_text)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备写入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, ne := range batch {
		ev := ne.Event
		if _, err := stmt.ExecContext(ctx,
			ne.Name,
			toMillis(ev.At),
			int(ev.State),
			nullableMillis(ev.ResponseTime),
			nullableText(ev.ResponseText),
		); err != nil {
			return fmt.Errorf("写入事件失败 (%s): %w", ne.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// GetRecentEvents 获取最近 limit 条事件（按时间倒序）
func (s *SQLiteStorage) GetRecentEvents(name string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx := s.effectiveCtx()

	rows, err := s.db.QueryContext(ctx, `
		SELECT at_ms, state, response_time_ms, response_text
		FROM monitor_events
		WHERE name = ?
		ORDER BY at_ms DESC, id DESC
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("查询最近事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			atMs  int64
			state int
			rt    sql.NullInt64
			text  sql.NullString
		)
		if err := rows.Scan(&atMs, &state, &rt, &text); err != nil {
			return nil, fmt.Errorf("扫描事件失败: %w", err)
		}
		ev := StoredEvent{
			At:           fromMillis(atMs),
			State:        monitor.State(state),
			ResponseText: text.String,
		}
		if rt.Valid {
			ev.ResponseTime = durationFromMillis(&rt.Int64)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代事件失败: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore 删除时间严格早于 cutoff 的事件
func (s *SQLiteStorage) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	ctx := s.effectiveCtx()

	result, err := s.db.ExecContext(ctx, `DELETE FROM monitor_events WHERE at_ms < ?`, cutoffMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("清理旧事件失败: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取删除条数失败: %w", err)
	}
	return deleted, nil
}

// GetLastSeen 获取 last-seen 记录
func (s *SQLiteStorage) GetLastSeen(name string) (*LastSeen, error) {
	ctx := s.effectiveCtx()

	var up, down sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_seen_up_ms, last_seen_down_ms
		FROM monitor_last_seen
		WHERE name = ?
	`, name).Scan(&up, &down)
	if err == sql.ErrNoRows {
		return nil, nil // 尚无记录
	}
	if err != nil {
		return nil, fmt.Errorf("查询 last-seen 失败: %w", err)
	}

	ls := &LastSeen{Name: name}
	if up.Valid {
		ls.Up = timeFromMillis(&up.Int64)
	}
	if down.Valid {
		ls.Down = timeFromMillis(&down.Int64)
	}
	return ls, nil
}

// TouchLastSeen 写入或更新 last-seen 记录（只覆盖对应状态的列）
func (s *SQLiteStorage) TouchLastSeen(name string, state monitor.State, at time.Time) error {
	up, down, ok := lastSeenColumns(state, at)
	if !ok {
		return nil
	}
	ctx := s.effectiveCtx()

	query := `
		INSERT INTO monitor_last_seen (name, last_seen_up_ms, last_seen_down_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_seen_up_ms = COALESCE(excluded.last_seen_up_ms, monitor_last_seen.last_seen_up_ms),
			last_seen_down_ms = COALESCE(excluded.last_seen_down_ms, monitor_last_seen.last_seen_down_ms)
	`
	if _, err := s.db.ExecContext(ctx, query, name, up, down); err != nil {
		return fmt.Errorf("更新 last-seen 失败: %w", err)
	}
	return nil
}
