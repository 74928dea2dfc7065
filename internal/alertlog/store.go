package alertlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

const (
	insertEventSQL = `INSERT INTO alert_logs (
        user_email,
        stock_code,
        stock_name,
        triggered_price,
        threshold_price,
        direction,
        ai_opinion
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    RETURNING id, created_at;`

	recentSinceSQL = `SELECT
        id, user_email, stock_code, stock_name,
        triggered_price, threshold_price, direction, ai_opinion, created_at
    FROM alert_logs
    WHERE user_email = $1
      AND created_at >= $2
    ORDER BY created_at DESC;`

	listRecentSQL = `SELECT
        id, user_email, stock_code, stock_name,
        triggered_price, threshold_price, direction, ai_opinion, created_at
    FROM alert_logs
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteBeforeSQL = `DELETE FROM alert_logs WHERE created_at < $1;`

	eventColumns = `id, user_email, stock_code, stock_name,
        triggered_price, threshold_price, direction, ai_opinion, created_at`
)

// Store defines alert history persistence. Append-only from the engine's
// perspective; retention cleanup is an operator concern.
type Store interface {
	Append(ctx context.Context, event Event) (int64, error)
	Query(ctx context.Context, filter Filter, req PageRequest) (Page, error)
	RecentSince(ctx context.Context, userEmail string, since time.Time) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// PGStore is the Postgres-backed alert log.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append persists a fired alert and returns its id.
func (s *PGStore) Append(ctx context.Context, event Event) (int64, error) {
	var opinion interface{}
	if len(event.Opinion) > 0 {
		opinion = []byte(event.Opinion)
	}

	var id int64
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, insertEventSQL,
		event.UserEmail,
		event.StockCode,
		event.StockName,
		event.TriggeredPrice.String(),
		event.ThresholdPrice.String(),
		string(event.Direction),
		opinion,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, fmt.Errorf("append alert event: %w", err)
	}
	return id, nil
}

// Query returns one page of history matching the filter, newest first,
// together with the total count for pagination metadata.
func (s *PGStore) Query(ctx context.Context, filter Filter, req PageRequest) (Page, error) {
	req = req.Normalize()

	where, args := buildFilter(filter)

	countSQL := "SELECT COUNT(*) FROM alert_logs" + where
	var total int64
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count alert events: %w", err)
	}

	listSQL := fmt.Sprintf(
		"SELECT %s FROM alert_logs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, req.PageSize, req.Offset())

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query alert events: %w", err)
	}
	defer rows.Close()

	events, err := collectEvents(rows)
	if err != nil {
		return Page{}, err
	}

	return NewPage(events, total, req), nil
}

// RecentSince returns the owner's alerts created at or after the given time.
func (s *PGStore) RecentSince(ctx context.Context, userEmail string, since time.Time) ([]Event, error) {
	rows, err := s.pool.Query(ctx, recentSinceSQL, userEmail, since)
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListRecent returns the newest alerts across all owners.
func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, listRecentSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// DeleteBefore removes historical alerts older than the cutoff.
func (s *PGStore) DeleteBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteBeforeSQL, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func buildFilter(filter Filter) (string, []interface{}) {
	clauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserEmail != "" {
		add("user_email = $%d", filter.UserEmail)
	}
	if filter.StockCode != "" {
		add("stock_code = $%d", filter.StockCode)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func collectEvents(rows pgx.Rows) ([]Event, error) {
	events := make([]Event, 0)
	for rows.Next() {
		var (
			event        Event
			triggeredStr string
			thresholdStr string
			direction    string
			opinion      []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.UserEmail,
			&event.StockCode,
			&event.StockName,
			&triggeredStr,
			&thresholdStr,
			&direction,
			&opinion,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}

		var err error
		event.TriggeredPrice, err = decimal.NewFromString(triggeredStr)
		if err != nil {
			return nil, fmt.Errorf("parse triggered price: %w", err)
		}
		event.ThresholdPrice, err = decimal.NewFromString(thresholdStr)
		if err != nil {
			return nil, fmt.Errorf("parse threshold price: %w", err)
		}
		event.Direction = detector.ParseDirection(direction)
		if len(opinion) > 0 {
			event.Opinion = opinion
		}

		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

var _ Store = (*PGStore)(nil)
