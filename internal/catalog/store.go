package catalog

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// ErrNoSingleRow means an exact lookup matched zero or several rows.
var ErrNoSingleRow = eris.New("catalog: expected exactly one row")

// Querier abstracts the stored function calls for testing.
type Querier interface {
	DropdownSeed(ctx context.Context) (DropdownSeed, error)
	Models(ctx context.Context, marca string) ([]string, error)
	Specs(ctx context.Context, marca, modelo string) ([]string, error)
	Countries(ctx context.Context, marca, modelo, especificacion string, ano int) ([]string, error)
	ReferenceValue(ctx context.Context, sel Selection) (float64, error)
	ServerCosts(ctx context.Context, sel Selection, freight float64) (ServerCosts, error)
	Close()
}

// pool defines the minimal database pool interface used by Store.
type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store calls the catalog's stored functions. Arguments are passed through
// unchanged; case handling belongs to Gateway.
type Store struct {
	pool pool
}

// Ensure Store implements Querier.
var _ Querier = (*Store)(nil)

// Connect opens a pool to url and verifies it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: connect")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "catalog: ping")
	}
	return p, nil
}

// NewStore creates a Store on p. The Store owns p; Close closes it.
func NewStore(p pool) *Store {
	return &Store{pool: p}
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

const seedSQL = `SELECT obtener_dropdown_data()`

// DropdownSeed returns every marca, año and país.
func (s *Store) DropdownSeed(ctx context.Context) (DropdownSeed, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, seedSQL).Scan(&raw); err != nil {
		return DropdownSeed{}, eris.Wrap(err, "catalog: dropdown data")
	}

	var seed DropdownSeed
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &seed); err != nil {
			return DropdownSeed{}, eris.Wrap(err, "catalog: decode dropdown data")
		}
	}
	if seed.Marcas == nil {
		seed.Marcas = []string{}
	}
	if seed.Anos == nil {
		seed.Anos = []int{}
	}
	if seed.Paises == nil {
		seed.Paises = []string{}
	}
	return seed, nil
}

const modelsSQL = `SELECT obtener_modelos_por_marca(marca_param => $1)`

// Models returns the modelos for marca.
func (s *Store) Models(ctx context.Context, marca string) ([]string, error) {
	list, err := s.jsonList(ctx, modelsSQL, marca)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: models")
	}
	return list, nil
}

const specsSQL = `SELECT obtener_especificaciones(marca_param => $1, modelo_param => $2)`

// Specs returns the especificaciones for marca and modelo.
func (s *Store) Specs(ctx context.Context, marca, modelo string) ([]string, error) {
	list, err := s.jsonList(ctx, specsSQL, marca, modelo)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: specs")
	}
	return list, nil
}

func (s *Store) jsonList(ctx context.Context, sql string, args ...any) ([]string, error) {
	var raw []byte
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return nil, err
	}
	list := []string{}
	if len(raw) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, eris.Wrap(err, "decode list")
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

const countriesSQL = `
SELECT pais
FROM obtener_paises_filtrados(
    p_marca => $1, p_modelo => $2, p_especificacion => $3, p_ano => $4)`

// Countries returns the países of manufacture available for the prefix.
func (s *Store) Countries(ctx context.Context, marca, modelo, especificacion string, ano int) ([]string, error) {
	rows, err := s.pool.Query(ctx, countriesSQL, marca, modelo, especificacion, ano)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: countries query")
	}
	defer rows.Close()

	paises := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, eris.Wrap(err, "catalog: scan country")
		}
		paises = append(paises, p)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: countries rows")
	}
	return paises, nil
}

const referenceSQL = `
SELECT valor::float8
FROM obtener_vehiculo_exacto(
    p_marca => $1, p_modelo => $2, p_especificacion => $3, p_ano => $4, p_pais => $5)`

// ReferenceValue returns the customs reference value of sel. Zero or several
// matches yield ErrNoSingleRow.
func (s *Store) ReferenceValue(ctx context.Context, sel Selection) (float64, error) {
	rows, err := s.pool.Query(ctx, referenceSQL, sel.Marca, sel.Modelo, sel.Especificacion, sel.Ano, sel.Pais)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: reference value query")
	}
	defer rows.Close()

	values, err := pgx.CollectRows(rows, pgx.RowTo[float64])
	if err != nil {
		return 0, eris.Wrap(err, "catalog: scan reference value")
	}
	if len(values) != 1 {
		return 0, eris.Wrapf(ErrNoSingleRow, "catalog: reference value matched %d rows", len(values))
	}
	return values[0], nil
}

const serverCostsSQL = `
SELECT COALESCE(valor_fob_usd, 0)::float8,
       COALESCE(valor_fob_dop, 0)::float8,
       COALESCE(impuestos_usd, 0)::float8,
       COALESCE(impuestos_dop, 0)::float8,
       COALESCE(primera_placa_usd, 0)::float8,
       COALESCE(primera_placa_dop, 0)::float8,
       COALESCE(total_usd, 0)::float8,
       COALESCE(total_dop, 0)::float8,
       COALESCE(tasa_cambio_utilizada, 0)::float8,
       COALESCE(es_dr_cafta_bool, false),
       COALESCE(valor_referencia_usd, 0)::float8,
       COALESCE(valor_referencia_dop, 0)::float8,
       COALESCE(seguro_usd, 0)::float8,
       COALESCE(seguro_dop, 0)::float8,
       COALESCE(flete_usd, 0)::float8,
       COALESCE(flete_dop, 0)::float8,
       COALESCE(marbete_usd, 0)::float8,
       COALESCE(marbete_dop, 0)::float8,
       COALESCE(cc_vehiculo, 0)::float8,
       COALESCE(porcentaje_impuesto, 0)::float8,
       COALESCE(porcentaje_primera_placa, 0)::float8
FROM calcular_costos_por_vehiculo(
    p_marca => $1, p_modelo => $2, p_especificacion => $3, p_ano => $4, p_pais => $5, p_flete => $6)`

// ServerCosts runs the database's cost function for sel. The single-row rule
// of ReferenceValue applies.
func (s *Store) ServerCosts(ctx context.Context, sel Selection, freight float64) (ServerCosts, error) {
	rows, err := s.pool.Query(ctx, serverCostsSQL,
		sel.Marca, sel.Modelo, sel.Especificacion, sel.Ano, sel.Pais, freight)
	if err != nil {
		return ServerCosts{}, eris.Wrap(err, "catalog: server costs query")
	}
	defer rows.Close()

	var out []ServerCosts
	for rows.Next() {
		var c ServerCosts
		if err := rows.Scan(
			&c.ValorFOBUSD, &c.ValorFOBDOP,
			&c.ImpuestosUSD, &c.ImpuestosDOP,
			&c.PrimeraPlacaUSD, &c.PrimeraPlacaDOP,
			&c.TotalUSD, &c.TotalDOP,
			&c.TasaCambioUtilizada, &c.EsDRCafta,
			&c.ValorReferenciaUSD, &c.ValorReferenciaDOP,
			&c.SeguroUSD, &c.SeguroDOP,
			&c.FleteUSD, &c.FleteDOP,
			&c.MarbeteUSD, &c.MarbeteDOP,
			&c.CCVehiculo, &c.PorcentajeImpuesto, &c.PorcentajePrimeraPlaca,
		); err != nil {
			return ServerCosts{}, eris.Wrap(err, "catalog: scan server costs")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return ServerCosts{}, eris.Wrap(err, "catalog: server costs rows")
	}
	if len(out) != 1 {
		return ServerCosts{}, eris.Wrapf(ErrNoSingleRow, "catalog: server costs matched %d rows", len(out))
	}
	return out[0], nil
}
