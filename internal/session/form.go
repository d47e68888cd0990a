package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/money"
)

// Catalog is the option and lookup source a Form reads from.
type Catalog interface {
	Seed(ctx context.Context) catalog.DropdownSeed
	Models(ctx context.Context, marca string) []string
	Specs(ctx context.Context, marca, modelo string) []string
	Countries(ctx context.Context, marca, modelo, especificacion string, ano int) []string
	ReferenceValue(ctx context.Context, sel catalog.Selection) (float64, bool)
}

// RateProvider supplies the DOP per USD rate.
type RateProvider interface {
	Rate(ctx context.Context) float64
}

// Deps are the collaborators shared by every Form.
type Deps struct {
	Catalog    Catalog
	Rates      RateProvider
	Calculator *cost.Calculator
	Now        func() time.Time
}

// Options are the choices for every field whose prefix is complete.
type Options struct {
	Marcas           []string `json:"marcas"`
	Modelos          []string `json:"modelos,omitempty"`
	Especificaciones []string `json:"especificaciones,omitempty"`
	Anos             []int    `json:"anos,omitempty"`
	Paises           []string `json:"paises,omitempty"`
}

// Snapshot is a copy of a Form's state.
type Snapshot struct {
	ID             string            `json:"id,omitempty"`
	Selection      catalog.Selection `json:"selection"`
	ReferenceValue *float64          `json:"reference_value,omitempty"`
	LookupPending  bool              `json:"lookup_pending"`
	Freight        float64           `json:"flete,omitempty"`
	Breakdown      *cost.Breakdown   `json:"breakdown,omitempty"`
	Calculated     bool              `json:"calculated"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type reference struct {
	sel   catalog.Selection
	value float64
	found bool
}

// Form is one estimate in progress. It is safe for concurrent use.
type Form struct {
	id   string
	deps Deps

	mu         sync.Mutex
	sel        catalog.Selection
	ref        *reference
	breakdown  *cost.Breakdown
	freight    float64
	calculated bool
	pending    int
	idle       *sync.Cond
	updatedAt  time.Time
}

// NewForm creates an empty form.
func NewForm(id string, deps Deps) *Form {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	f := &Form{id: id, deps: deps, updatedAt: deps.Now()}
	f.idle = sync.NewCond(&f.mu)
	return f
}

// ID returns the form id.
func (f *Form) ID() string { return f.id }

// Set assigns value to field and clears every later field along with the
// reference value and breakdown. An empty value clears field itself. When the
// selection becomes complete the reference lookup starts in the background.
func (f *Form) Set(ctx context.Context, field Field, value string) error {
	if field < FieldMarca || field > FieldPais {
		return eris.Wrapf(ErrUnknownField, "session: field %d", int(field))
	}
	value = strings.TrimSpace(value)

	year := 0
	if field == FieldAno && value != "" {
		y, err := strconv.Atoi(value)
		if err != nil || y <= 0 {
			return eris.Wrapf(ErrInvalidYear, "session: ano %q", value)
		}
		year = y
	}

	f.mu.Lock()
	if value != "" && !prefixSet(f.sel, field) {
		f.mu.Unlock()
		return eris.Wrapf(ErrPrefixIncomplete, "session: set %s", field)
	}

	f.sel = assign(f.sel, field, value, year)
	f.ref = nil
	f.breakdown = nil
	f.freight = 0
	f.calculated = false
	f.updatedAt = f.deps.Now()

	sel := f.sel
	if sel.Complete() {
		f.pending++
	}
	f.mu.Unlock()

	if sel.Complete() {
		go f.lookup(context.WithoutCancel(ctx), sel)
	}
	return nil
}

// Fill sets every field of sel in order.
func (f *Form) Fill(ctx context.Context, sel catalog.Selection) error {
	values := []string{sel.Marca, sel.Modelo, sel.Especificacion, "", sel.Pais}
	if sel.Ano != 0 {
		values[FieldAno] = strconv.Itoa(sel.Ano)
	}
	for i, v := range values {
		if err := f.Set(ctx, Fields[i], v); err != nil {
			return err
		}
	}
	return nil
}

func (f *Form) lookup(ctx context.Context, sel catalog.Selection) {
	v, ok := f.deps.Catalog.ReferenceValue(ctx, sel)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending--
	if f.pending == 0 {
		f.idle.Broadcast()
	}
	if f.sel != sel {
		zap.L().Debug("session: dropping stale reference lookup",
			zap.String("session", f.id),
			zap.Stringer("issued_for", sel),
			zap.Stringer("current", f.sel),
		)
		return
	}
	f.ref = &reference{sel: sel, value: v, found: ok}
}

// Wait blocks until every background lookup has finished.
func (f *Form) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pending > 0 {
		f.idle.Wait()
	}
}

// Options returns the choices for the next fields.
func (f *Form) Options(ctx context.Context) Options {
	f.mu.Lock()
	sel := f.sel
	f.mu.Unlock()

	seed := f.deps.Catalog.Seed(ctx)
	opts := Options{Marcas: seed.Marcas}
	if sel.Marca != "" {
		opts.Modelos = f.deps.Catalog.Models(ctx, sel.Marca)
	}
	if sel.Modelo != "" {
		opts.Especificaciones = f.deps.Catalog.Specs(ctx, sel.Marca, sel.Modelo)
	}
	if sel.Especificacion != "" {
		opts.Anos = seed.Anos
	}
	if sel.Ano != 0 {
		opts.Paises = f.deps.Catalog.Countries(ctx, sel.Marca, sel.Modelo, sel.Especificacion, sel.Ano)
	}
	return opts
}

// Calculate computes the breakdown for the current selection and freight.
// Missing input and an unknown vehicle are reported as *ValidationError.
func (f *Form) Calculate(ctx context.Context, freight string) (cost.Breakdown, error) {
	flete := money.ParseNumber(freight)

	f.mu.Lock()
	if f.calculated {
		f.mu.Unlock()
		return cost.Breakdown{}, ErrAlreadyCalculated
	}
	sel := f.sel
	f.mu.Unlock()

	if !sel.Complete() || flete <= 0 {
		return cost.Breakdown{}, &ValidationError{Message: MsgMissingFields}
	}

	ref, err := f.referenceFor(ctx, sel)
	if err != nil {
		return cost.Breakdown{}, err
	}
	if !ref.found {
		return cost.Breakdown{}, &ValidationError{Message: MsgNotFound}
	}

	rate := f.deps.Rates.Rate(ctx)
	b := f.deps.Calculator.ComputeTotal(cost.Input{
		ReferenceValue: ref.value,
		Freight:        flete,
		Country:        sel.Pais,
		Year:           sel.Ano,
		Rate:           rate,
	})
	if b.Error != "" {
		return b, &ValidationError{Message: MsgNotFound}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sel != sel {
		return cost.Breakdown{}, ErrSelectionChanged
	}
	f.breakdown = &b
	f.freight = flete
	f.calculated = true
	f.updatedAt = f.deps.Now()

	zap.L().Info("session: calculated",
		zap.String("session", f.id),
		zap.Stringer("selection", sel),
		zap.Float64("flete", flete),
		zap.Float64("rate", rate),
		zap.Float64("total_usd", b.Total.USD),
	)
	return b, nil
}

// referenceFor waits for background lookups and falls back to a synchronous
// one when none completed for sel.
func (f *Form) referenceFor(ctx context.Context, sel catalog.Selection) (reference, error) {
	f.Wait()

	f.mu.Lock()
	if f.sel != sel {
		f.mu.Unlock()
		return reference{}, ErrSelectionChanged
	}
	if f.ref != nil && f.ref.sel == sel {
		ref := *f.ref
		f.mu.Unlock()
		return ref, nil
	}
	f.mu.Unlock()

	v, ok := f.deps.Catalog.ReferenceValue(ctx, sel)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sel != sel {
		return reference{}, ErrSelectionChanged
	}
	f.ref = &reference{sel: sel, value: v, found: ok}
	return *f.ref, nil
}

// NewSearch resets the form completely.
func (f *Form) NewSearch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sel = catalog.Selection{}
	f.ref = nil
	f.breakdown = nil
	f.freight = 0
	f.calculated = false
	f.updatedAt = f.deps.Now()
}

// Snapshot returns a copy of the current state.
func (f *Form) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Snapshot{
		ID:            f.id,
		Selection:     f.sel,
		LookupPending: f.pending > 0,
		Freight:       f.freight,
		Calculated:    f.calculated,
		UpdatedAt:     f.updatedAt,
	}
	if f.ref != nil && f.ref.found {
		v := f.ref.value
		s.ReferenceValue = &v
	}
	if f.breakdown != nil {
		b := *f.breakdown
		s.Breakdown = &b
	}
	return s
}

func (f *Form) touch() {
	f.mu.Lock()
	f.updatedAt = f.deps.Now()
	f.mu.Unlock()
}

func (f *Form) lastUpdate() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updatedAt
}

func prefixSet(sel catalog.Selection, field Field) bool {
	for _, prev := range Fields[:field] {
		if !isSet(sel, prev) {
			return false
		}
	}
	return true
}

func isSet(sel catalog.Selection, field Field) bool {
	switch field {
	case FieldMarca:
		return sel.Marca != ""
	case FieldModelo:
		return sel.Modelo != ""
	case FieldEspecificacion:
		return sel.Especificacion != ""
	case FieldAno:
		return sel.Ano != 0
	case FieldPais:
		return sel.Pais != ""
	}
	return false
}

// assign sets field and zeroes every field after it.
func assign(sel catalog.Selection, field Field, value string, year int) catalog.Selection {
	out := catalog.Selection{}
	if field > FieldMarca {
		out.Marca = sel.Marca
	}
	if field > FieldModelo {
		out.Modelo = sel.Modelo
	}
	if field > FieldEspecificacion {
		out.Especificacion = sel.Especificacion
	}
	if field > FieldAno {
		out.Ano = sel.Ano
	}

	switch field {
	case FieldMarca:
		out.Marca = value
	case FieldModelo:
		out.Modelo = value
	case FieldEspecificacion:
		out.Especificacion = value
	case FieldAno:
		out.Ano = year
	case FieldPais:
		out.Pais = value
	}
	return out
}
