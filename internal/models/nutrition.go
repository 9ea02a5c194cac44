package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for every stored timestamp.
// Fixed width keeps lexical order equal to chronological order in SQL.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DateLayout is the layout of the date prefix used by day filters.
const DateLayout = "2006-01-02"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Product is one cached product entry, keyed by barcode.
// Macros are per 100g, as reported by the external source.
type Product struct {
	Barcode   string   `json:"barcode"`
	Name      *string  `json:"name"`
	Calories  *float64 `json:"calories"` // kcal
	Protein   *float64 `json:"protein"`  // grams
	Carbs     *float64 `json:"carbs"`    // grams
	Fat       *float64 `json:"fat"`      // grams
	ImageURL  *string  `json:"image_url"`
	Source    string   `json:"source"`
	UpdatedAt string   `json:"updated_at"`
}

// ScanRecord is one logged scan. Rows are append-only.
type ScanRecord struct {
	ID        int64    `json:"id"`
	Timestamp string   `json:"ts"`
	Barcode   string   `json:"barcode"`
	Name      *string  `json:"name"`
	Calories  *float64 `json:"calories"`
	Protein   *float64 `json:"protein"`
	Carbs     *float64 `json:"carbs"`
	Fat       *float64 `json:"fat"`
	ImageURL  *string  `json:"image_url"`
}

// ScanInput is a scan submission as sent by a client.
type ScanInput struct {
	Barcode  Barcode  `json:"barcode"`
	Name     *string  `json:"name"`
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Carbs    *float64 `json:"carbs"`
	Fat      *float64 `json:"fat"`
	ImageURL *string  `json:"image_url"`
}

// HasNutrition reports whether the client supplied any of the six optional fields.
func (in ScanInput) HasNutrition() bool {
	return in.Name != nil || in.Calories != nil || in.Protein != nil ||
		in.Carbs != nil || in.Fat != nil || in.ImageURL != nil
}

// FillFrom copies all six optional fields from a cached product.
func (in *ScanInput) FillFrom(p *Product) {
	in.Name = p.Name
	in.Calories = p.Calories
	in.Protein = p.Protein
	in.Carbs = p.Carbs
	in.Fat = p.Fat
	in.ImageURL = p.ImageURL
}

// Barcode accepts either a JSON string or a JSON number; scanners often send
// EAN codes as bare numbers.
type Barcode string

// UnmarshalJSON implements json.Unmarshaler.
func (b *Barcode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Barcode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("barcode must be a string or number: %w", err)
	}
	*b = Barcode(n.String())
	return nil
}

// Trimmed returns the barcode without surrounding whitespace.
func (b Barcode) Trimmed() string {
	return strings.TrimSpace(string(b))
}

// ScanEvent is published once a scan has been stored. It carries no nutrition
// data; subscribers re-query when they need details.
type ScanEvent struct {
	Barcode string `json:"barcode"`
}

// ScanFilter narrows scan history queries. Empty fields do not filter.
type ScanFilter struct {
	Date    string // YYYY-MM-DD prefix of ts
	Barcode string
	Limit   int
}

// Summary holds the macro totals for a single UTC day.
type Summary struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Scans    int64   `json:"scans"`
}
