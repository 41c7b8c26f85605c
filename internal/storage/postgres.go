package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"statuswatch/internal/config"
	"statuswatch/internal/logger"
	"statuswatch/internal/monitor"
)

// PostgresStorage PostgreSQL 存储实现
type PostgresStorage struct {
	pool *pgxpool.Pool
	ctx  context.Context
}

// NewPostgresStorage 创建 PostgreSQL 存储
func NewPostgresStorage(cfg *config.PostgresConfig) (*PostgresStorage, error) {
	// 构建连接字符串
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	// 解析连接池配置
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 PostgreSQL 连接配置失败: %w", err)
	}

	// 设置连接池参数
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)

	// 解析连接最大生命周期
	poolConfig.MaxConnLifetime = time.Hour
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			logger.Warn("storage", "解析 conn_max_lifetime 失败，使用默认值 1h", "error", err)
		} else {
			poolConfig.MaxConnLifetime = lifetime
		}
	}

	// 创建连接池
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 PostgreSQL 连接池失败: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("连接 PostgreSQL 失败: %w", err)
	}

	return &PostgresStorage{
		pool: pool,
		ctx:  ctx,
	}, nil
}

// WithContext 返回绑定指定 context 的存储实例
func (s *PostgresStorage) WithContext(ctx context.Context) Storage {
	if ctx == nil {
		return s
	}
	return &PostgresStorage{
		pool: s.pool,
		ctx:  ctx,
	}
}

func (s *PostgresStorage) effectiveCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// Init 初始化数据库表
func (s *PostgresStorage) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS monitor_events (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		at_ms BIGINT NOT NULL,
		state SMALLINT NOT NULL,
		response_time_ms BIGINT,
		response_text TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_monitor_events_name_at
	ON monitor_events(name, at_ms DESC);

	CREATE INDEX IF NOT EXISTS idx_monitor_events_at
	ON monitor_events(at_ms);

	CREATE TABLE IF NOT EXISTS monitor_last_seen (
		name TEXT PRIMARY KEY,
		last_seen_up_ms BIGINT,
		last_seen_down_ms BIGINT
	);
	`

	if _, err := s.pool.Exec(s.effectiveCtx(), schema); err != nil {
		return fmt.Errorf("初始化 PostgreSQL 数据库失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// SaveEvents 在一个事务内批量写入事件
func (s *PostgresStorage) SaveEvents(batch []NamedEvent) error {
	if len(batch) == 0 {
		return nil
	}

	err := pgx.BeginFunc(s.effectiveCtx(), s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, ne := range batch {
			ev := ne.Event
			b.Queue(`
				INSERT INTO monitor_events (name, at_ms, state, response_time_ms, response_text)
				VALUES ($1, $2, $3, $4, $5)
			`, ne.Name, toMillis(ev.At), int16(ev.State), nullableMillis(ev.ResponseTime), nullableText(ev.ResponseText))
		}
		return tx.SendBatch(s.effectiveCtx(), b).Close()
	})
	if err != nil {
		return fmt.Errorf("批量写入 PostgreSQL 事件失败: %w", err)
	}
	return nil
}

// GetRecentEvents 获取最近 limit 条事件（按时间倒序）
func (s *PostgresStorage) GetRecentEvents(name string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(s.effectiveCtx(), `
		SELECT at_ms, state, response_time_ms, response_text
		FROM monitor_events
		WHERE name = $1
		ORDER BY at_ms DESC, id DESC
		LIMIT $2
	`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("查询 PostgreSQL 最近事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			atMs  int64
			state int16
			rt    *int64
			text  *string
		)
		if err := rows.Scan(&atMs, &state, &rt, &text); err != nil {
			return nil, fmt.Errorf("扫描 PostgreSQL 事件失败: %w", err)
		}
		ev := StoredEvent{
			At:           fromMillis(atMs),
			State:        monitor.State(state),
			ResponseTime: durationFromMillis(rt),
		}
		if text != nil {
			ev.ResponseText = *text
		}
		events = append(events, ev)
	}

	// 检查迭代过程中是否发生错误
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代 PostgreSQL 事件失败: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore 删除时间严格早于 cutoff 的事件
func (s *PostgresStorage) DeleteEventsBefore(cutoff time.Time) (int64, error) {
	result, err := s.pool.Exec(s.effectiveCtx(), `DELETE FROM monitor_events WHERE at_ms < $1`, cutoffMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("清理 PostgreSQL 旧事件失败: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetLastSeen 获取 last-seen 记录
func (s *PostgresStorage) GetLastSeen(name string) (*LastSeen, error) {
	var up, down *int64
	err := s.pool.QueryRow(s.effectiveCtx(), `
		SELECT last_seen_up_ms, last_seen_down_ms
		FROM monitor_last_seen
		WHERE name = $1
	`, name).Scan(&up, &down)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // 尚无记录
	}
	if err != nil {
		return nil, fmt.Errorf("查询 PostgreSQL last-seen 失败: %w", err)
	}

	return &LastSeen{
		Name: name,
		Up:   timeFromMillis(up),
		Down: timeFromMillis(down),
	}, nil
}

// TouchLastSeen 写入或更新 last-seen 记录（只覆盖对应状态的列）
func (s *PostgresStorage) TouchLastSeen(name string, state monitor.State, at time.Time) error {
	up, down, ok := lastSeenColumns(state, at)
	if !ok {
		return nil
	}

	query := `
		INSERT INTO monitor_last_seen (name, last_seen_up_ms, last_seen_down_ms)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			last_seen_up_ms = COALESCE(EXCLUDED.last_seen_up_ms, monitor_last_seen.last_seen_up_ms),
			last_seen_down_ms = COALESCE(EXCLUDED.last_seen_down_ms, monitor_last_seen.last_seen_down_ms)
	`
	if _, err := s.pool.Exec(s.effectiveCtx(), query, name, up, down); err != nil {
		return fmt.Errorf("更新 PostgreSQL last-seen 失败: %w", err)
	}
	return nil
}
