package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MiracleAig/IoT-WebUI/internal/logger"
	"github.com/MiracleAig/IoT-WebUI/internal/metrics"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// ScanStore persists and queries scan history.
type ScanStore interface {
	InsertScan(ctx context.Context, scan *models.ScanRecord) error
	ListScans(ctx context.Context, filter models.ScanFilter) ([]*models.ScanRecord, error)
}

// Resolver resolves a barcode to a cached or freshly fetched product.
type Resolver interface {
	Resolve(ctx context.Context, barcode string) (*models.Product, error)
}

// Publisher receives an event for every stored scan.
type Publisher interface {
	Publish(ev models.ScanEvent)
}

// ScanRecorder validates and stores scans and announces them.
type ScanRecorder struct {
	store     ScanStore
	resolver  Resolver
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewScanRecorder creates a recorder. logger and m may be nil.
func NewScanRecorder(store ScanStore, resolver Resolver, pub Publisher, log *zap.Logger, m *metrics.Metrics) *ScanRecorder {
	return &ScanRecorder{
		store:     store,
		resolver:  resolver,
		publisher: pub,
		logger:    logger.OrNop(log),
		metrics:   m,
		now:       time.Now,
	}
}

// Record stores one scan. When the input carries none of the nutrition
// fields they are copied from the resolved product; a failed resolution
// still records the bare scan. The scan event is published only after the
// row is stored.
func (r *ScanRecorder) Record(ctx context.Context, in models.ScanInput) (*models.ScanRecord, error) {
	barcode := in.Barcode.Trimmed()
	if barcode == "" {
		return nil, ErrBarcodeRequired
	}

	autofilled := false
	if !in.HasNutrition() {
		p, err := r.resolver.Resolve(ctx, barcode)
		switch {
		case err == nil:
			in.FillFrom(p)
			autofilled = true
		case errors.Is(err, models.ErrNotFound):
			r.logger.Info("Recording scan without nutrition", zap.String("barcode", barcode))
		default:
			r.logger.Warn("Auto-fill failed, recording bare scan",
				zap.String("barcode", barcode), zap.Error(err))
		}
	}

	rec := &models.ScanRecord{
		Timestamp: models.FormatTimestamp(r.now()),
		Barcode:   barcode,
		Name:      in.Name,
		Calories:  in.Calories,
		Protein:   in.Protein,
		Carbs:     in.Carbs,
		Fat:       in.Fat,
		ImageURL:  in.ImageURL,
	}
	if err := r.store.InsertScan(ctx, rec); err != nil {
		r.logger.Error("Failed to store scan", zap.String("barcode", barcode), zap.Error(err))
		return nil, err
	}

	r.metrics.ObserveScan(autofilled)
	if r.publisher != nil {
		r.publisher.Publish(models.ScanEvent{Barcode: barcode})
	}

	r.logger.Info("Scan recorded",
		zap.Int64("id", rec.ID),
		zap.String("barcode", barcode),
		zap.Bool("autofilled", autofilled))
	return rec, nil
}

// History lists stored scans, newest first.
func (r *ScanRecorder) History(ctx context.Context, filter models.ScanFilter) ([]*models.ScanRecord, error) {
	filter.Date = strings.TrimSpace(filter.Date)
	filter.Barcode = strings.TrimSpace(filter.Barcode)
	return r.store.ListScans(ctx, filter)
}
