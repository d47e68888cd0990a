package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/money"
	"github.com/sells-group/importduty/internal/session"
)

type errorBody struct {
	Error string `json:"error"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type estimateRequest struct {
	Marca          string     `json:"marca"`
	Modelo         string     `json:"modelo"`
	Especificacion string     `json:"especificacion"`
	Ano            flexString `json:"ano"`
	Pais           string     `json:"pais"`
	Flete          flexString `json:"flete"`
}

// Formatted holds the breakdown as display strings.
type Formatted struct {
	ValorFOBUSD     string `json:"valor_fob_usd"`
	ValorFOBDOP     string `json:"valor_fob_dop"`
	ImpuestosUSD    string `json:"impuestos_usd"`
	ImpuestosDOP    string `json:"impuestos_dop"`
	PrimeraPlacaUSD string `json:"primera_placa_usd"`
	PrimeraPlacaDOP string `json:"primera_placa_dop"`
	TotalUSD        string `json:"total_usd"`
	TotalDOP        string `json:"total_dop"`
}

// FormatBreakdown renders every amount of b in its currency's style.
func FormatBreakdown(b cost.Breakdown) Formatted {
	return Formatted{
		ValorFOBUSD:     money.FormatUSD(b.ValorFOB.USD),
		ValorFOBDOP:     money.FormatDOP(b.ValorFOB.DOP),
		ImpuestosUSD:    money.FormatUSD(b.Impuestos.USD),
		ImpuestosDOP:    money.FormatDOP(b.Impuestos.DOP),
		PrimeraPlacaUSD: money.FormatUSD(b.PrimeraPlaca.USD),
		PrimeraPlacaDOP: money.FormatDOP(b.PrimeraPlaca.DOP),
		TotalUSD:        money.FormatUSD(b.Total.USD),
		TotalDOP:        money.FormatDOP(b.Total.DOP),
	}
}

type estimateResponse struct {
	Selection catalog.Selection `json:"selection"`
	Flete     float64           `json:"flete"`
	Breakdown cost.Breakdown    `json:"breakdown"`
	Formatted Formatted         `json:"formatted"`
}

type sessionResponse struct {
	session.Snapshot
	Options   session.Options `json:"options"`
	Formatted *Formatted      `json:"formatted,omitempty"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Forms.Catalog.Seed(r.Context()))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.deps.Forms.Catalog.Models(r.Context(), q.Get("marca")))
}

func (s *Server) handleSpecs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.deps.Forms.Catalog.Specs(r.Context(), q.Get("marca"), q.Get("modelo")))
}

func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ano := 0
	if raw := q.Get("ano"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "ano must be a whole number"})
			return
		}
		ano = v
	}
	writeJSON(w, http.StatusOK, s.deps.Forms.Catalog.Countries(r.Context(),
		q.Get("marca"), q.Get("modelo"), q.Get("especificacion"), ano))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	s.deps.Rates.Rate(r.Context())
	writeJSON(w, http.StatusOK, s.deps.Rates.Info())
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	form := session.NewForm("", s.deps.Forms)
	ctx := r.Context()
	values := []string{req.Marca, req.Modelo, req.Especificacion, string(req.Ano), req.Pais}
	for i, v := range values {
		if err := form.Set(ctx, session.Fields[i], v); err != nil {
			if errors.Is(err, session.ErrPrefixIncomplete) {
				err = &session.ValidationError{Message: session.MsgMissingFields}
			}
			writeError(w, err)
			return
		}
	}

	b, err := form.Calculate(ctx, string(req.Flete))
	if err != nil {
		writeError(w, err)
		return
	}
	snap := form.Snapshot()
	writeJSON(w, http.StatusOK, estimateResponse{
		Selection: snap.Selection,
		Flete:     snap.Freight,
		Breakdown: b,
		Formatted: FormatBreakdown(b),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	f := s.deps.Registry.Create()
	writeJSON(w, http.StatusCreated, s.sessionBody(r, f))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	f, ok := s.form(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(r, f))
}

func (s *Server) handleSetField(w http.ResponseWriter, r *http.Request) {
	f, ok := s.form(w, r)
	if !ok {
		return
	}
	field, err := session.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Value flexString `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := f.Set(r.Context(), field, string(req.Value)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(r, f))
}

func (s *Server) handleCalculate(w http.ResponseWriter, r *http.Request) {
	f, ok := s.form(w, r)
	if !ok {
		return
	}
	var req struct {
		Flete flexString `json:"flete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if _, err := f.Calculate(r.Context(), string(req.Flete)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionBody(r, f))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	f, ok := s.form(w, r)
	if !ok {
		return
	}
	f.NewSearch()
	writeJSON(w, http.StatusOK, s.sessionBody(r, f))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	s.deps.Cache.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) form(w http.ResponseWriter, r *http.Request) (*session.Form, bool) {
	f, err := s.deps.Registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return f, true
}

func (s *Server) sessionBody(r *http.Request, f *session.Form) sessionResponse {
	resp := sessionResponse{
		Snapshot: f.Snapshot(),
		Options:  f.Options(r.Context()),
	}
	if resp.Breakdown != nil {
		formatted := FormatBreakdown(*resp.Breakdown)
		resp.Formatted = &formatted
	}
	return resp
}

func writeError(w http.ResponseWriter, err error) {
	var verr *session.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: verr.Message})
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session not found"})
	case errors.Is(err, session.ErrPrefixIncomplete),
		errors.Is(err, session.ErrUnknownField),
		errors.Is(err, session.ErrInvalidYear):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: message(err)})
	case errors.Is(err, session.ErrAlreadyCalculated),
		errors.Is(err, session.ErrSelectionChanged):
		writeJSON(w, http.StatusConflict, errorBody{Error: message(err)})
	default:
		zap.L().Error("api: unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// message returns the innermost error text without package prefixes.
func message(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return strings.TrimPrefix(err.Error(), "session: ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
