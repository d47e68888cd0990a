package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/cache"
	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/fxrate"
	"github.com/sells-group/importduty/internal/session"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

var corolla = catalog.Selection{
	Marca: "TOYOTA", Modelo: "COROLLA", Especificacion: "LE 1.8", Ano: 2023, Pais: "ESTADOS UNIDOS",
}

type fakeCatalog struct{}

func (fakeCatalog) Seed(context.Context) catalog.DropdownSeed {
	return catalog.DropdownSeed{Marcas: []string{"TOYOTA"}, Anos: []int{2023}, Paises: []string{"ESTADOS UNIDOS"}}
}

func (fakeCatalog) Models(_ context.Context, marca string) []string {
	if marca == "" {
		return []string{}
	}
	return []string{"COROLLA"}
}

func (fakeCatalog) Specs(context.Context, string, string) []string { return []string{"LE 1.8"} }

func (fakeCatalog) Countries(_ context.Context, _, _, _ string, ano int) []string {
	if ano == 0 {
		return []string{}
	}
	return []string{"ESTADOS UNIDOS"}
}

func (fakeCatalog) ReferenceValue(_ context.Context, sel catalog.Selection) (float64, bool) {
	if sel == corolla {
		return 20000, true
	}
	return 0, false
}

type fakeRates struct{}

func (fakeRates) Rate(context.Context) float64 { return 58.5 }

func (fakeRates) Info() fxrate.Info {
	return fxrate.Info{Rate: 58.5, Source: "bcrd"}
}

type fakeCache struct{ cleared int }

func (c *fakeCache) CacheStats() []cache.Stats {
	return []cache.Stats{{Name: "catalog_options", Hits: 3, Misses: 1, HitRate: 75}}
}

func (c *fakeCache) ClearCache() { c.cleared++ }

func newTestServer(t *testing.T, cfg Config) (*Server, *fakeCache) {
	t.Helper()
	now := func() time.Time { return testNow }
	forms := session.Deps{
		Catalog:    fakeCatalog{},
		Rates:      fakeRates{},
		Calculator: cost.NewCalculator(cost.DefaultRates(), cost.WithClock(now)),
		Now:        now,
	}
	fc := &fakeCache{}
	return New(cfg, Deps{
		Forms:    forms,
		Registry: session.NewRegistry(forms, time.Hour),
		Rates:    fakeRates{},
		Cache:    fc,
	}), fc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestOptionsEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/api/options/seed", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	seed := decode[catalog.DropdownSeed](t, rr)
	assert.Equal(t, []string{"TOYOTA"}, seed.Marcas)

	rr = do(t, srv, http.MethodGet, "/api/options/models?marca=TOYOTA", nil)
	assert.Equal(t, []string{"COROLLA"}, decode[[]string](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/options/models", nil)
	assert.Equal(t, []string{}, decode[[]string](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/options/specs?marca=TOYOTA&modelo=COROLLA", nil)
	assert.Equal(t, []string{"LE 1.8"}, decode[[]string](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/options/countries?marca=TOYOTA&modelo=COROLLA&especificacion=LE+1.8&ano=2023", nil)
	assert.Equal(t, []string{"ESTADOS UNIDOS"}, decode[[]string](t, rr))

	rr = do(t, srv, http.MethodGet, "/api/options/countries?ano=dos", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRate(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/api/rate", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	info := decode[fxrate.Info](t, rr)
	assert.InDelta(t, 58.5, info.Rate, 1e-9)
	assert.Equal(t, "bcrd", info.Source)
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/api/estimate", map[string]any{
		"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8",
		"ano": 2023, "pais": "ESTADOS UNIDOS", "flete": "800",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decode[estimateResponse](t, rr)
	assert.Equal(t, corolla, resp.Selection)
	assert.InDelta(t, 800.0, resp.Flete, 1e-9)
	assert.InDelta(t, 21200.0, resp.Breakdown.ValorFOB.USD, 1e-9)
	assert.InDelta(t, 7683.28, resp.Breakdown.Total.USD, 0.005)
	assert.Equal(t, "$7,683.28", resp.Formatted.TotalUSD)
	assert.Equal(t, "$21,200.00", resp.Formatted.ValorFOBUSD)
	assert.Equal(t, "RD$1,240,200.00", resp.Formatted.ValorFOBDOP)
}

func TestEstimate_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{
			name:    "missing pais",
			body:    map[string]any{"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8", "ano": "2023", "flete": 800},
			status:  http.StatusUnprocessableEntity,
			message: session.MsgMissingFields,
		},
		{
			name:    "gap in fields",
			body:    map[string]any{"marca": "TOYOTA", "pais": "USA", "flete": 800},
			status:  http.StatusUnprocessableEntity,
			message: session.MsgMissingFields,
		},
		{
			name:    "zero freight",
			body:    map[string]any{"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8", "ano": 2023, "pais": "ESTADOS UNIDOS", "flete": 0},
			status:  http.StatusUnprocessableEntity,
			message: session.MsgMissingFields,
		},
		{
			name:    "unknown vehicle",
			body:    map[string]any{"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8", "ano": 2023, "pais": "JAPÓN", "flete": 800},
			status:  http.StatusUnprocessableEntity,
			message: session.MsgNotFound,
		},
		{
			name:    "overflowing freight",
			body:    map[string]any{"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8", "ano": 2023, "pais": "ESTADOS UNIDOS", "flete": "1" + strings.Repeat("0", 307)},
			status:  http.StatusUnprocessableEntity,
			message: session.MsgNotFound,
		},
		{
			name:   "bad year",
			body:   map[string]any{"marca": "TOYOTA", "modelo": "COROLLA", "especificacion": "LE 1.8", "ano": "dos mil", "flete": 800},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := do(t, srv, http.MethodPost, "/api/estimate", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			if tt.message != "" {
				assert.Equal(t, tt.message, decode[errorBody](t, rr).Error)
			}
		})
	}
}

func TestEstimate_InvalidBody(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/estimate", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestSessionFlow(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decode[sessionResponse](t, rr)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"TOYOTA"}, created.Options.Marcas)
	base := "/api/sessions/" + created.ID

	steps := []struct {
		field string
		value any
	}{
		{"marca", "TOYOTA"},
		{"modelo", "COROLLA"},
		{"especificacion", "LE 1.8"},
		{"ano", 2023},
		{"pais", "ESTADOS UNIDOS"},
	}
	for _, st := range steps {
		rr = do(t, srv, http.MethodPut, base+"/fields/"+st.field, map[string]any{"value": st.value})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	resp := decode[sessionResponse](t, rr)
	assert.Equal(t, corolla, resp.Selection)
	assert.Equal(t, []string{"ESTADOS UNIDOS"}, resp.Options.Paises)

	rr = do(t, srv, http.MethodPost, base+"/calculate", map[string]any{"flete": "800"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp = decode[sessionResponse](t, rr)
	assert.True(t, resp.Calculated)
	require.NotNil(t, resp.Breakdown)
	require.NotNil(t, resp.Formatted)
	assert.Equal(t, "$7,683.28", resp.Formatted.TotalUSD)

	rr = do(t, srv, http.MethodPost, base+"/calculate", map[string]any{"flete": "800"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decode[sessionResponse](t, rr).Calculated)

	rr = do(t, srv, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decode[sessionResponse](t, rr)
	assert.False(t, resp.Calculated)
	assert.Equal(t, catalog.Selection{}, resp.Selection)
	assert.Nil(t, resp.Breakdown)
}

func TestSession_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/api/sessions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, srv, http.MethodPost, "/api/sessions", nil)
	base := "/api/sessions/" + decode[sessionResponse](t, rr).ID

	rr = do(t, srv, http.MethodPut, base+"/fields/color", map[string]any{"value": "rojo"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, srv, http.MethodPut, base+"/fields/modelo", map[string]any{"value": "COROLLA"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[errorBody](t, rr).Error, "previous fields")

	rr = do(t, srv, http.MethodPost, base+"/calculate", map[string]any{"flete": 800})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, session.MsgMissingFields, decode[errorBody](t, rr).Error)
}

func TestAdminCache(t *testing.T) {
	t.Parallel()
	srv, fc := newTestServer(t, Config{})

	rr := do(t, srv, http.MethodGet, "/api/admin/cache", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[[]cache.Stats](t, rr)
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(3), stats[0].Hits)

	rr = do(t, srv, http.MethodPost, "/api/admin/cache/clear", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, fc.cleared)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 2})

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/rate", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/rate", nil).Code)
	rr := do(t, srv, http.MethodGet, "/api/rate", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))

	// Health is outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/health", nil).Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{CORSOrigins: []string{"https://example.do"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/rate", nil)
	req.Header.Set("Origin", "https://example.do")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, "https://example.do", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestFlexString(t *testing.T) {
	t.Parallel()

	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"800","b":1250.5,"c":null}`), &v))
	assert.Equal(t, flexString("800"), v.A)
	assert.Equal(t, flexString("1250.5"), v.B)
	assert.Equal(t, flexString(""), v.C)
}
