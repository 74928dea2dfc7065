package alertlog

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"stockwatch/internal/detector"
)

// Event is one fired alert. Immutable once created.
type Event struct {
	ID             int64              `json:"id"`
	UserEmail      string             `json:"user_email"`
	StockCode      string             `json:"stock_code"`
	StockName      string             `json:"stock_name"`
	TriggeredPrice decimal.Decimal    `json:"triggered_price"`
	ThresholdPrice decimal.Decimal    `json:"threshold_price"`
	Direction      detector.Direction `json:"direction"`
	Opinion        json.RawMessage    `json:"ai_opinion,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// Filter narrows a history query.
type Filter struct {
	UserEmail string
	StockCode string
	From      *time.Time
	To        *time.Time
}

// PageRequest selects one page of history, 1-based.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 200 {
		p.PageSize = 200
	}
	return p
}

// Offset returns the row offset for the request.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of events plus pagination metadata.
type Page struct {
	Events   []Event `json:"events"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	HasNext  bool    `json:"has_next"`
	HasPrev  bool    `json:"has_prev"`
}

// NewPage assembles pagination metadata for a result slice.
func NewPage(events []Event, total int64, req PageRequest) Page {
	req = req.Normalize()
	return Page{
		Events:   events,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		HasNext:  int64(req.Offset()+len(events)) < total,
		HasPrev:  req.Page > 1,
	}
}
