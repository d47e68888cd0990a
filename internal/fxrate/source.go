// Package fxrate provides the USD to DOP exchange rate used for estimates.
package fxrate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/importduty/internal/resilience"
)

// DefaultSourceTimeout bounds each upstream rate request.
const DefaultSourceTimeout = 5 * time.Second

// Source fetches the current rate (DOP per USD) from one upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// ErrRateNotFound means the upstream answered but did not contain the rate.
var ErrRateNotFound = eris.New("fxrate: rate not found in response")

// SourceOption configures an HTTP rate source.
type SourceOption func(*httpSource)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) SourceOption {
	return func(s *httpSource) {
		s.http = hc
	}
}

// WithTimeout overrides DefaultSourceTimeout.
func WithTimeout(d time.Duration) SourceOption {
	return func(s *httpSource) {
		if d > 0 {
			s.timeout = d
		}
	}
}

type httpSource struct {
	name    string
	url     string
	timeout time.Duration
	http    *http.Client
	extract func(body []byte) (float64, error)
}

func newHTTPSource(name, url string, extract func([]byte) (float64, error), opts []SourceOption) *httpSource {
	s := &httpSource{
		name:    name,
		url:     url,
		timeout: DefaultSourceTimeout,
		http:    &http.Client{},
		extract: extract,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Fetch(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: create request", s.name)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: request", s.name)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: read body", s.name)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &resilience.StatusError{Service: s.name, StatusCode: resp.StatusCode}
	}

	rate, err := s.extract(body)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: extract rate", s.name)
	}
	if rate <= 0 {
		return 0, eris.Wrapf(ErrRateNotFound, "%s: non-positive rate %v", s.name, rate)
	}
	return rate, nil
}

// BCRD indicator names look like "Dólar Estadounidense Venta".
const (
	bcrdCurrencyName = "dólar estadounidense"
	bcrdSellingWord  = "venta"
)

type bcrdIndicator struct {
	IndicatorID   int         `json:"indicatorId"`
	IndicatorName string      `json:"indicatorName"`
	Category      string      `json:"category"`
	Value         json.Number `json:"value"`
}

// NewBCRDSource returns the central bank indicator feed source. The feed is
// either a bare array of indicators or an object wrapping it under "data".
func NewBCRDSource(url string, opts ...SourceOption) Source {
	return newHTTPSource("bcrd", url, extractBCRD, opts)
}

func extractBCRD(body []byte) (float64, error) {
	indicators, err := decodeBCRD(body)
	if err != nil {
		return 0, err
	}
	for _, ind := range indicators {
		name := strings.ToLower(ind.IndicatorName)
		if strings.Contains(name, bcrdCurrencyName) && strings.Contains(name, bcrdSellingWord) {
			v, err := ind.Value.Float64()
			if err != nil {
				return 0, eris.Wrapf(err, "parse indicator %q", ind.IndicatorName)
			}
			return v, nil
		}
	}
	return 0, ErrRateNotFound
}

func decodeBCRD(body []byte) ([]bcrdIndicator, error) {
	var wrapped struct {
		Data []bcrdIndicator `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var bare []bcrdIndicator
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, eris.Wrap(err, "unmarshal indicators")
	}
	return bare, nil
}

// NewExchangeRateAPISource returns the exchangerate-api.com source, reading
// conversion_rates.DOP from {baseURL}/v6/{apiKey}/latest/USD.
func NewExchangeRateAPISource(baseURL, apiKey string, opts ...SourceOption) Source {
	url := strings.TrimRight(baseURL, "/") + "/v6/" + apiKey + "/latest/USD"
	return newHTTPSource("exchangerate-api", url, extractExchangeRateAPI, opts)
}

func extractExchangeRateAPI(body []byte) (float64, error) {
	var resp struct {
		Result          string                 `json:"result"`
		ConversionRates map[string]json.Number `json:"conversion_rates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, eris.Wrap(err, "unmarshal response")
	}
	dop, ok := resp.ConversionRates["DOP"]
	if !ok {
		return 0, ErrRateNotFound
	}
	v, err := dop.Float64()
	if err != nil {
		return 0, eris.Wrap(err, "parse DOP rate")
	}
	return v, nil
}
