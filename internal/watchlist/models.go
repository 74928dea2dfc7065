package watchlist

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

var (
	// ErrNotFound indicates the (owner, code) pair is not watched.
	ErrNotFound = errors.New("watchlist: entry not found")
	// ErrDuplicate indicates the (owner, code) pair is already watched.
	ErrDuplicate = errors.New("watchlist: entry already exists")
	// ErrDirectionConflict indicates a concurrent writer updated the direction first.
	ErrDirectionConflict = errors.New("watchlist: direction changed concurrently")
)

// ValidationError rejects a mutation before it reaches any detector state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "watchlist: " + e.Reason
}

var (
	codePattern  = regexp.MustCompile(`^\d{6}\.[A-Z]{2}$`)
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// Entry is a watched instrument with its price band.
type Entry struct {
	ID             int64              `json:"id"`
	UserEmail      string             `json:"user_email"`
	StockCode      string             `json:"stock_code"`
	StockName      string             `json:"stock_name"`
	UpperThreshold decimal.Decimal    `json:"upper_threshold"`
	LowerThreshold decimal.Decimal    `json:"lower_threshold"`
	LastPrice      *decimal.Decimal   `json:"last_price,omitempty"`
	LastDirection  detector.Direction `json:"last_alert_direction"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Validate checks the threshold invariant and identifier formats.
func (e *Entry) Validate() error {
	if e.UserEmail == "" || e.StockCode == "" {
		return &ValidationError{Reason: "user email and stock code are required"}
	}
	if !emailPattern.MatchString(e.UserEmail) {
		return &ValidationError{Reason: fmt.Sprintf("invalid email %q", e.UserEmail)}
	}
	if !codePattern.MatchString(e.StockCode) {
		return &ValidationError{Reason: fmt.Sprintf("invalid stock code %q (expected e.g. 600036.SH)", e.StockCode)}
	}
	if e.StockName == "" {
		return &ValidationError{Reason: "stock name is required"}
	}
	if !e.LowerThreshold.IsPositive() {
		return &ValidationError{Reason: "lower threshold must be greater than zero"}
	}
	if !e.UpperThreshold.GreaterThan(e.LowerThreshold) {
		return &ValidationError{Reason: "upper threshold must be greater than lower threshold"}
	}
	return nil
}
