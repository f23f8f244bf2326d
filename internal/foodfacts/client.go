// Package foodfacts looks up packaged food by barcode on Open Food Facts.
package foodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/fitpanda/internal/api"
	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/model"
	"github.com/and161185/fitpanda/internal/telemetry"
)

const (
	DefaultBaseURL = "https://world.openfoodfacts.org"

	unknownName  = "Unknown item"
	unknownBrand = "Unknown brand"
)

// Client queries the product API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	metrics   *telemetry.Recorder
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			cp := *hc
			c.http = &cp
		}
	}
}

// WithMetrics records lookups on r.
func WithMetrics(r *telemetry.Recorder) Option { return func(c *Client) { c.metrics = r } }

// WithUserAgent sets the User-Agent; the service asks clients to identify themselves.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// New builds a Client. An empty baseURL means DefaultBaseURL.
func New(baseURL string, timeout time.Duration, log *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || base.Host == "" {
		return nil, errs.Validation("foodfacts base url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = api.DefaultTimeout
	}
	c := &Client{
		baseURL:   base,
		http:      &http.Client{},
		userAgent: "fitpanda/0.1",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = api.LoggingTransport(c.http.Transport, log)
	if c.http.Timeout == 0 {
		c.http.Timeout = timeout
	}
	return c, nil
}

// ValidBarcode reports whether code looks like an EAN/UPC barcode.
func ValidBarcode(code string) bool {
	if len(code) < 8 || len(code) > 14 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Lookup returns the product for barcode, or errs.ErrNotFound when the
// database has no entry for it.
func (c *Client) Lookup(ctx context.Context, barcode string) (model.NutritionItem, error) {
	barcode = strings.TrimSpace(barcode)
	if !ValidBarcode(barcode) {
		return model.NutritionItem{}, errs.Validation("barcode %q must be 8 to 14 digits", barcode)
	}
	rel := &url.URL{Path: "/api/v0/product/" + barcode + ".json"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.JoinURL(c.baseURL, rel).String(), nil)
	if err != nil {
		return model.NutritionItem{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = api.TransportError("foodfacts_lookup", err)
		c.metrics.Request(ctx, "foodfacts_lookup", 0, time.Since(start), err)
		return model.NutritionItem{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		c.metrics.Request(ctx, "foodfacts_lookup", resp.StatusCode, time.Since(start), nil)
		return model.NutritionItem{}, fmt.Errorf("barcode %s: %w", barcode, errs.ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		herr := &errs.HTTPError{Op: "foodfacts_lookup", Status: resp.StatusCode}
		c.metrics.Request(ctx, "foodfacts_lookup", resp.StatusCode, time.Since(start), herr)
		return model.NutritionItem{}, herr
	}

	var payload productResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, api.MaxBodyBytes)).Decode(&payload); err != nil {
		c.metrics.Request(ctx, "foodfacts_lookup", resp.StatusCode, time.Since(start), err)
		return model.NutritionItem{}, fmt.Errorf("foodfacts: %w: %v", errs.ErrDecode, err)
	}
	c.metrics.Request(ctx, "foodfacts_lookup", resp.StatusCode, time.Since(start), nil)
	if payload.Status != 1 || payload.Product == nil {
		return model.NutritionItem{}, fmt.Errorf("barcode %s: %w", barcode, errs.ErrNotFound)
	}
	return payload.Product.item(), nil
}

type productResponse struct {
	Status  int      `json:"status"`
	Product *product `json:"product"`
}

type product struct {
	Name       string     `json:"product_name"`
	Brands     string     `json:"brands"`
	Nutriments nutriments `json:"nutriments"`
}

type nutriments struct {
	KcalServing flexFloat `json:"energy-kcal_serving"`
	Kcal100g    flexFloat `json:"energy-kcal_100g"`
	Carbs100g   flexFloat `json:"carbohydrates_100g"`
	Protein100g flexFloat `json:"proteins_100g"`
	Fat100g     flexFloat `json:"fat_100g"`
}

func (p product) item() model.NutritionItem {
	it := model.NutritionItem{
		Name:    strings.TrimSpace(p.Name),
		Brand:   strings.TrimSpace(p.Brands),
		Carbs:   p.Nutriments.Carbs100g.ptr(),
		Protein: p.Nutriments.Protein100g.ptr(),
		Fat:     p.Nutriments.Fat100g.ptr(),
	}
	if it.Name == "" {
		it.Name = unknownName
	}
	if it.Brand == "" {
		it.Brand = unknownBrand
	}
	// per-serving energy wins; a zero serving value falls through to per-100g
	if v := p.Nutriments.KcalServing.ptr(); v != nil && *v > 0 {
		it.Calories = v
	} else {
		it.Calories = p.Nutriments.Kcal100g.ptr()
	}
	return it
}

// flexFloat accepts a JSON number or a numeric string. Anything else reads
// as absent.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}
