package watchlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

const (
	insertEntrySQL = `INSERT INTO watchlist (
        user_email,
        stock_code,
        stock_name,
        upper_threshold,
        lower_threshold
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, created_at, updated_at;`

	listAllSQL = `SELECT
        id, user_email, stock_code, stock_name,
        upper_threshold, lower_threshold, last_price,
        last_alert_direction, created_at, updated_at
    FROM watchlist
    ORDER BY user_email, stock_code;`

	listByOwnerSQL = `SELECT
        id, user_email, stock_code, stock_name,
        upper_threshold, lower_threshold, last_price,
        last_alert_direction, created_at, updated_at
    FROM watchlist
    WHERE user_email = $1
    ORDER BY stock_code;`

	getEntrySQL = `SELECT
        id, user_email, stock_code, stock_name,
        upper_threshold, lower_threshold, last_price,
        last_alert_direction, created_at, updated_at
    FROM watchlist
    WHERE user_email = $1 AND stock_code = $2;`

	updateThresholdsSQL = `UPDATE watchlist
    SET upper_threshold = $3,
        lower_threshold = $4,
        updated_at      = now()
    WHERE user_email = $1 AND stock_code = $2;`

	deleteEntrySQL = `DELETE FROM watchlist
    WHERE user_email = $1 AND stock_code = $2;`

	updateDirectionSQL = `UPDATE watchlist
    SET last_alert_direction = $4,
        last_price           = $5,
        updated_at           = now()
    WHERE user_email = $1
      AND stock_code = $2
      AND last_alert_direction = $3;`

	updateLastPriceSQL = `UPDATE watchlist
    SET last_price = $3,
        updated_at = now()
    WHERE user_email = $1 AND stock_code = $2;`
)

// Store defines watchlist persistence operations.
type Store interface {
	Add(ctx context.Context, entry Entry) (Entry, error)
	ListAll(ctx context.Context) ([]Entry, error)
	ListByOwner(ctx context.Context, userEmail string) ([]Entry, error)
	Get(ctx context.Context, userEmail, stockCode string) (Entry, error)
	UpdateThresholds(ctx context.Context, userEmail, stockCode string, upper, lower decimal.Decimal) error
	Remove(ctx context.Context, userEmail, stockCode string) error
	UpdateDirection(ctx context.Context, userEmail, stockCode string, expected, next detector.Direction, lastPrice decimal.Decimal) error
	UpdateLastPrice(ctx context.Context, userEmail, stockCode string, price decimal.Decimal) error
}

// PGStore is the Postgres-backed watchlist store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wires a pgx pool into a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Add validates and persists a new watched instrument.
func (s *PGStore) Add(ctx context.Context, entry Entry) (Entry, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}

	row := s.pool.QueryRow(ctx, insertEntrySQL,
		entry.UserEmail,
		entry.StockCode,
		entry.StockName,
		entry.UpperThreshold.String(),
		entry.LowerThreshold.String(),
	)

	entry.LastDirection = detector.DirectionNone
	if err := row.Scan(&entry.ID, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Entry{}, ErrDuplicate
		}
		return Entry{}, fmt.Errorf("insert watchlist entry: %w", err)
	}
	return entry, nil
}

// ListAll returns every watched instrument across all owners.
func (s *PGStore) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, listAllSQL)
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ListByOwner returns the owner's watched instruments.
func (s *PGStore) ListByOwner(ctx context.Context, userEmail string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, listByOwnerSQL, userEmail)
	if err != nil {
		return nil, fmt.Errorf("list watchlist by owner: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Get fetches a single watched instrument.
func (s *PGStore) Get(ctx context.Context, userEmail, stockCode string) (Entry, error) {
	rows, err := s.pool.Query(ctx, getEntrySQL, userEmail, stockCode)
	if err != nil {
		return Entry{}, fmt.Errorf("get watchlist entry: %w", err)
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, ErrNotFound
	}
	return entries[0], nil
}

// UpdateThresholds changes the price band after re-validating the invariant.
func (s *PGStore) UpdateThresholds(ctx context.Context, userEmail, stockCode string, upper, lower decimal.Decimal) error {
	probe := Entry{
		UserEmail:      userEmail,
		StockCode:      stockCode,
		StockName:      "-",
		UpperThreshold: upper,
		LowerThreshold: lower,
	}
	if err := probe.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, updateThresholdsSQL, userEmail, stockCode, upper.String(), lower.String())
	if err != nil {
		return fmt.Errorf("update thresholds: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes the watched instrument.
func (s *PGStore) Remove(ctx context.Context, userEmail, stockCode string) error {
	tag, err := s.pool.Exec(ctx, deleteEntrySQL, userEmail, stockCode)
	if err != nil {
		return fmt.Errorf("remove watchlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDirection persists a new alert direction with an optimistic check on
// the previous one. A zero-row update means another writer got there first.
func (s *PGStore) UpdateDirection(ctx context.Context, userEmail, stockCode string, expected, next detector.Direction, lastPrice decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, updateDirectionSQL,
		userEmail, stockCode, string(expected), string(next), lastPrice.String())
	if err != nil {
		return fmt.Errorf("update direction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDirectionConflict
	}
	return nil
}

// UpdateLastPrice records the most recent observed price.
func (s *PGStore) UpdateLastPrice(ctx context.Context, userEmail, stockCode string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, updateLastPriceSQL, userEmail, stockCode, price.String())
	if err != nil {
		return fmt.Errorf("update last price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry        Entry
			upperStr     string
			lowerStr     string
			lastPriceStr *string
			direction    string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserEmail,
			&entry.StockCode,
			&entry.StockName,
			&upperStr,
			&lowerStr,
			&lastPriceStr,
			&direction,
			&entry.CreatedAt,
			&entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan watchlist entry: %w", err)
		}

		var err error
		entry.UpperThreshold, err = decimal.NewFromString(upperStr)
		if err != nil {
			return nil, fmt.Errorf("parse upper threshold: %w", err)
		}
		entry.LowerThreshold, err = decimal.NewFromString(lowerStr)
		if err != nil {
			return nil, fmt.Errorf("parse lower threshold: %w", err)
		}
		if lastPriceStr != nil {
			price, err := decimal.NewFromString(*lastPriceStr)
			if err != nil {
				return nil, fmt.Errorf("parse last price: %w", err)
			}
			entry.LastPrice = &price
		}
		entry.LastDirection = detector.ParseDirection(direction)

		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

var _ Store = (*PGStore)(nil)
