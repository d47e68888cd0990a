package catalog

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/cache"
)

// SpecCase controls how especificacion is cased for exact lookups.
type SpecCase string

const (
	// SpecCasePreserve passes especificacion exactly as selected.
	SpecCasePreserve SpecCase = "preserve"
	// SpecCaseUpper uppercases especificacion like the other key fields.
	SpecCaseUpper SpecCase = "upper"
)

// Valid reports whether c is a known policy.
func (c SpecCase) Valid() bool {
	return c == SpecCasePreserve || c == SpecCaseUpper
}

// Config configures the Gateway.
type Config struct {
	SpecCase         SpecCase `yaml:"spec_case" mapstructure:"spec_case"`
	OptionsTTLMins   int      `yaml:"options_ttl_mins" mapstructure:"options_ttl_mins"`
	CountriesTTLMins int      `yaml:"countries_ttl_mins" mapstructure:"countries_ttl_mins"`
}

// DefaultConfig returns the Gateway defaults.
func DefaultConfig() Config {
	return Config{
		SpecCase:         SpecCasePreserve,
		OptionsTTLMins:   60,
		CountriesTTLMins: 30,
	}
}

const seedKey = "seed"

// Gateway is the read side of the catalog used by forms and commands. It
// normalizes case, caches option lists and never returns errors: failures
// are logged and reported as empty or absent results.
type Gateway struct {
	q            Querier
	specCase     SpecCase
	optionsTTL   time.Duration
	countriesTTL time.Duration

	seeds *cache.Cache[DropdownSeed]
	lists *cache.Cache[[]string]
}

// NewGateway creates a Gateway over q.
func NewGateway(q Querier, cfg Config) (*Gateway, error) {
	def := DefaultConfig()
	if !cfg.SpecCase.Valid() {
		cfg.SpecCase = def.SpecCase
	}
	if cfg.OptionsTTLMins <= 0 {
		cfg.OptionsTTLMins = def.OptionsTTLMins
	}
	if cfg.CountriesTTLMins <= 0 {
		cfg.CountriesTTLMins = def.CountriesTTLMins
	}

	seeds, err := cache.New("catalog_seed", func(s DropdownSeed) int64 {
		return int64(len(s.Marcas) + len(s.Anos) + len(s.Paises))
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: seed cache")
	}
	lists, err := cache.New("catalog_options", func(v []string) int64 {
		return int64(len(v))
	})
	if err != nil {
		seeds.Close()
		return nil, eris.Wrap(err, "catalog: options cache")
	}

	return &Gateway{
		q:            q,
		specCase:     cfg.SpecCase,
		optionsTTL:   time.Duration(cfg.OptionsTTLMins) * time.Minute,
		countriesTTL: time.Duration(cfg.CountriesTTLMins) * time.Minute,
		seeds:        seeds,
		lists:        lists,
	}, nil
}

// Close stops the caches and closes the underlying Querier.
func (g *Gateway) Close() {
	g.seeds.Close()
	g.lists.Close()
	g.q.Close()
}

// Seed returns the initial dropdown data, or an empty seed on failure.
func (g *Gateway) Seed(ctx context.Context) DropdownSeed {
	if seed, ok := g.seeds.Get(seedKey); ok {
		return seed
	}

	seed, err := g.q.DropdownSeed(ctx)
	if err != nil {
		zap.L().Error("catalog: dropdown data failed", zap.Error(err))
		return DropdownSeed{Marcas: []string{}, Anos: []int{}, Paises: []string{}}
	}
	if !seed.Empty() {
		g.seeds.Set(seedKey, seed, g.optionsTTL)
	}
	return seed
}

// Models returns the modelos for marca.
func (g *Gateway) Models(ctx context.Context, marca string) []string {
	if marca == "" {
		return []string{}
	}
	return g.cachedList(ctx, "models:"+marca, g.optionsTTL,
		[]zap.Field{zap.String("marca", marca)},
		func(ctx context.Context) ([]string, error) {
			return g.q.Models(ctx, marca)
		})
}

// Specs returns the especificaciones for marca and modelo.
func (g *Gateway) Specs(ctx context.Context, marca, modelo string) []string {
	if marca == "" || modelo == "" {
		return []string{}
	}
	return g.cachedList(ctx, "specs:"+marca+"|"+modelo, g.optionsTTL,
		[]zap.Field{zap.String("marca", marca), zap.String("modelo", modelo)},
		func(ctx context.Context) ([]string, error) {
			return g.q.Specs(ctx, marca, modelo)
		})
}

// Countries returns the países of manufacture available for the prefix.
func (g *Gateway) Countries(ctx context.Context, marca, modelo, especificacion string, ano int) []string {
	if marca == "" || modelo == "" || especificacion == "" || ano == 0 {
		return []string{}
	}
	marca, modelo, especificacion = upper(marca), upper(modelo), g.spec(especificacion)
	key := "countries:" + marca + "|" + modelo + "|" + especificacion + "|" + strconv.Itoa(ano)
	return g.cachedList(ctx, key, g.countriesTTL,
		[]zap.Field{
			zap.String("marca", marca),
			zap.String("modelo", modelo),
			zap.String("especificacion", especificacion),
			zap.Int("ano", ano),
		},
		func(ctx context.Context) ([]string, error) {
			return g.q.Countries(ctx, marca, modelo, especificacion, ano)
		})
}

func (g *Gateway) cachedList(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fields []zap.Field,
	load func(context.Context) ([]string, error),
) []string {
	if list, ok := g.lists.Get(key); ok {
		return list
	}

	list, err := load(ctx)
	if err != nil {
		zap.L().Error("catalog: option query failed", append(fields, zap.Error(err))...)
		return []string{}
	}
	if len(list) == 0 {
		zap.L().Warn("catalog: no options", fields...)
		return []string{}
	}
	g.lists.Set(key, list, ttl)
	return list
}

// Normalize applies the case policy used for exact lookups.
func (g *Gateway) Normalize(sel Selection) Selection {
	return Selection{
		Marca:          upper(sel.Marca),
		Modelo:         upper(sel.Modelo),
		Especificacion: g.spec(sel.Especificacion),
		Ano:            sel.Ano,
		Pais:           upper(sel.Pais),
	}
}

// ReferenceValue returns the reference value of sel. ok is false when sel is
// incomplete, no single row matched, or the query failed.
func (g *Gateway) ReferenceValue(ctx context.Context, sel Selection) (float64, bool) {
	if !sel.Complete() {
		return 0, false
	}
	norm := g.Normalize(sel)

	v, err := g.q.ReferenceValue(ctx, norm)
	if err != nil {
		g.logLookup("catalog: reference value lookup failed", norm, err)
		return 0, false
	}
	return v, true
}

// ServerCosts runs the database's cost function for sel.
func (g *Gateway) ServerCosts(ctx context.Context, sel Selection, freight float64) (ServerCosts, bool) {
	if !sel.Complete() || freight <= 0 {
		return ServerCosts{}, false
	}
	norm := g.Normalize(sel)

	c, err := g.q.ServerCosts(ctx, norm, freight)
	if err != nil {
		g.logLookup("catalog: server costs failed", norm, err, zap.Float64("flete", freight))
		return ServerCosts{}, false
	}
	return c, true
}

func (g *Gateway) logLookup(msg string, sel Selection, err error, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("marca", sel.Marca),
		zap.String("modelo", sel.Modelo),
		zap.String("especificacion", sel.Especificacion),
		zap.Int("ano", sel.Ano),
		zap.String("pais", sel.Pais),
		zap.Error(err),
	}, extra...)
	if errors.Is(err, ErrNoSingleRow) {
		zap.L().Warn(msg, fields...)
		return
	}
	zap.L().Error(msg, fields...)
}

// CacheStats reports the option caches.
func (g *Gateway) CacheStats() []cache.Stats {
	return []cache.Stats{g.seeds.Stats(), g.lists.Stats()}
}

// ClearCache drops every cached option list.
func (g *Gateway) ClearCache() {
	g.seeds.Clear()
	g.lists.Clear()
	zap.L().Info("catalog: option cache cleared")
}

func (g *Gateway) spec(s string) string {
	if g.specCase == SpecCaseUpper {
		return upper(s)
	}
	return s
}

func upper(s string) string {
	return strings.ToUpper(s)
}
