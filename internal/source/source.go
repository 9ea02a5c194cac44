package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MiracleAig/IoT-WebUI/internal/config"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// ErrProductNotFound means the source answered but has no usable product for the barcode.
var ErrProductNotFound = errors.New("product not found")

// Source represents an external product database keyed by barcode
type Source interface {
	// Name is the provenance tag stored with cached entries
	Name() string
	// Lookup fetches and normalizes the product for barcode. Errors wrap either
	// ErrProductNotFound or models.ErrUpstreamUnavailable.
	Lookup(ctx context.Context, barcode string) (*models.Product, error)
}

// New creates a source based on the configured type
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case "openfoodfacts":
		return NewOpenFoodFacts(cfg.BaseURL, &http.Client{Timeout: cfg.Timeout}, cfg.UserAgent), nil
	case "none":
		return Offline{}, nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// Offline never finds anything. It keeps the service usable without network
// access; only already cached products resolve.
type Offline struct{}

// Name implements Source.
func (Offline) Name() string { return "none" }

// Lookup implements Source.
func (Offline) Lookup(_ context.Context, barcode string) (*models.Product, error) {
	return nil, fmt.Errorf("offline source, barcode %s: %w", barcode, ErrProductNotFound)
}
