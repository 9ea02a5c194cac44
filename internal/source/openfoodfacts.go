package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

// OpenFoodFactsName is the provenance tag for products fetched from Open Food Facts.
const OpenFoodFactsName = "openfoodfacts"

const maxResponseBytes = 4 << 20

// OpenFoodFacts looks products up through the Open Food Facts v2 product API.
type OpenFoodFacts struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewOpenFoodFacts creates a client for baseURL. The client's Timeout bounds
// every lookup.
func NewOpenFoodFacts(baseURL string, client *http.Client, userAgent string) *OpenFoodFacts {
	if client == nil {
		client = http.DefaultClient
	}
	return &OpenFoodFacts{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
	}
}

// Name implements Source.
func (o *OpenFoodFacts) Name() string { return OpenFoodFactsName }

type offResponse struct {
	Product *offProduct `json:"product"`
}

type offProduct struct {
	ProductName   string        `json:"product_name"`
	ProductNameEn string        `json:"product_name_en"`
	ImageFrontURL string        `json:"image_front_url"`
	ImageURL      string        `json:"image_url"`
	Nutriments    offNutriments `json:"nutriments"`
}

// Values are per 100g.
type offNutriments struct {
	EnergyKcal100g    nutrient `json:"energy-kcal_100g"`
	Proteins100g      nutrient `json:"proteins_100g"`
	Carbohydrates100g nutrient `json:"carbohydrates_100g"`
	Fat100g           nutrient `json:"fat_100g"`
}

// nutrient tolerates numbers, numeric strings and junk; anything it cannot
// read as a number is treated as absent.
type nutrient struct {
	value *float64
}

func (n *nutrient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil
	}
	n.value = &f
	return nil
}

// Lookup implements Source.
func (o *OpenFoodFacts) Lookup(ctx context.Context, barcode string) (*models.Product, error) {
	u := fmt.Sprintf("%s/api/v2/product/%s", o.baseURL, url.PathEscape(barcode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w: %w", models.ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call openfoodfacts: %w: %w", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("openfoodfacts barcode %s: %w", barcode, ErrProductNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openfoodfacts API error %d: %w", resp.StatusCode, models.ErrUpstreamUnavailable)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read openfoodfacts response: %w: %w", models.ErrUpstreamUnavailable, err)
	}

	var payload offResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse openfoodfacts JSON: %w: %w", models.ErrUpstreamUnavailable, err)
	}

	return o.normalize(barcode, payload.Product)
}

func (o *OpenFoodFacts) normalize(barcode string, p *offProduct) (*models.Product, error) {
	if p == nil {
		return nil, fmt.Errorf("openfoodfacts barcode %s has no product: %w", barcode, ErrProductNotFound)
	}

	name := firstNonEmpty(p.ProductName, p.ProductNameEn)
	if name == "" {
		return nil, fmt.Errorf("openfoodfacts barcode %s has no name: %w", barcode, ErrProductNotFound)
	}

	product := &models.Product{
		Barcode:  barcode,
		Name:     &name,
		Calories: p.Nutriments.EnergyKcal100g.value,
		Protein:  p.Nutriments.Proteins100g.value,
		Carbs:    p.Nutriments.Carbohydrates100g.value,
		Fat:      p.Nutriments.Fat100g.value,
		Source:   o.Name(),
	}
	if img := firstNonEmpty(p.ImageFrontURL, p.ImageURL); img != "" {
		product.ImageURL = &img
	}
	return product, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
