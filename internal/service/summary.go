package service

import (
	"context"
	"strings"
	"time"

	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// SummaryStore totals a day of scans.
type SummaryStore interface {
	SummarizeDay(ctx context.Context, day string) (*models.Summary, error)
}

// Aggregator computes daily macro totals.
type Aggregator struct {
	store SummaryStore
	now   func() time.Time
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store SummaryStore) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Summarize totals the scans whose timestamp falls on day (YYYY-MM-DD, UTC).
// An empty day defaults to today.
func (a *Aggregator) Summarize(ctx context.Context, day string) (*models.Summary, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		day = a.Today()
	}
	return a.store.SummarizeDay(ctx, day)
}

// Today returns the current UTC date.
func (a *Aggregator) Today() string {
	return a.now().UTC().Format(models.DateLayout)
}
