// Package service holds the tracker's use cases: product resolution, scan
// recording and daily summaries.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
	"github.com/MiracleAig/IoT-WebUI/internal/source"
)

// ErrBarcodeRequired is returned when a barcode is empty after trimming.
var ErrBarcodeRequired = fmt.Errorf("barcode is required: %w", models.ErrValidation)

// ProductStore is the product cache the resolver reads and writes.
type ProductStore interface {
	GetProduct(ctx context.Context, barcode string) (*models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
}

// ProductResolver resolves barcodes cache first, falling back to the external
// source once per miss and writing successful results back to the cache.
type ProductResolver struct {
	store   ProductStore
	source  source.Source
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewProductResolver creates a resolver. logger and m may be nil.
func NewProductResolver(store ProductStore, src source.Source, log *zap.Logger, m *metrics.Metrics) *ProductResolver {
	return &ProductResolver{
		store:   store,
		source:  src,
		logger:  logger.OrNop(log),
		metrics: m,
		now:     time.Now,
	}
}

// Resolve returns the product for barcode. A cached entry is returned without
// contacting the source. Any source failure yields models.ErrNotFound;
// negative results are not cached.
func (r *ProductResolver) Resolve(ctx context.Context, barcode string) (*models.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, ErrBarcodeRequired
	}

	cached, err := r.store.GetProduct(ctx, barcode)
	if err != nil {
		r.logger.Error("Product cache read failed", zap.String("barcode", barcode), zap.Error(err))
		return nil, err
	}
	if cached != nil {
		r.metrics.ObserveLookup(metrics.LookupHit)
		r.logger.Debug("Product cache hit", zap.String("barcode", barcode))
		return cached, nil
	}

	start := time.Now()
	p, err := r.source.Lookup(ctx, barcode)
	elapsed := time.Since(start)
	if err != nil {
		result := metrics.UpstreamUnavailable
		if errors.Is(err, source.ErrProductNotFound) {
			result = metrics.UpstreamNotFound
		}
		r.metrics.ObserveUpstream(r.source.Name(), result, elapsed.Seconds())
		r.metrics.ObserveLookup(metrics.LookupNotFound)
		r.logger.Warn("Product lookup failed",
			zap.String("barcode", barcode),
			zap.String("source", r.source.Name()),
			zap.String("result", result),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, fmt.Errorf("barcode %s: %w", barcode, models.ErrNotFound)
	}
	r.metrics.ObserveUpstream(r.source.Name(), metrics.UpstreamFound, elapsed.Seconds())

	p.Barcode = barcode
	if p.Source == "" {
		p.Source = r.source.Name()
	}
	p.UpdatedAt = models.FormatTimestamp(r.now())

	if err := r.store.UpsertProduct(ctx, p); err != nil {
		r.logger.Error("Product cache write failed", zap.String("barcode", barcode), zap.Error(err))
		return nil, err
	}

	r.metrics.ObserveLookup(metrics.LookupResolved)
	r.logger.Info("Product resolved",
		zap.String("barcode", barcode),
		zap.String("source", p.Source),
		zap.Duration("elapsed", elapsed))
	return p, nil
}
