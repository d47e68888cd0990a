package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/session"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

var corolla = catalog.Selection{
	Marca: "TOYOTA", Modelo: "COROLLA", Especificacion: "LE 1.8", Ano: 2023, Pais: "ESTADOS UNIDOS",
}

type fakeCatalog struct {
	costs   catalog.ServerCosts
	noCosts bool
}

func (*fakeCatalog) Seed(context.Context) catalog.DropdownSeed {
	return catalog.DropdownSeed{
		Marcas: []string{"HONDA", "TOYOTA"},
		Anos:   []int{2024, 2023},
		Paises: []string{"ESTADOS UNIDOS", "JAPON"},
	}
}

func (*fakeCatalog) Models(_ context.Context, marca string) []string {
	if marca == "TOYOTA" {
		return []string{"COROLLA", "RAV4"}
	}
	return []string{}
}

func (*fakeCatalog) Specs(_ context.Context, _, modelo string) []string {
	if modelo == "COROLLA" {
		return []string{"LE 1.8"}
	}
	return []string{}
}

func (*fakeCatalog) Countries(_ context.Context, _, _, _ string, ano int) []string {
	if ano == 2023 {
		return []string{"ESTADOS UNIDOS"}
	}
	return []string{}
}

func (*fakeCatalog) ReferenceValue(_ context.Context, sel catalog.Selection) (float64, bool) {
	if sel == corolla {
		return 20000, true
	}
	return 0, false
}

func (f *fakeCatalog) ServerCosts(_ context.Context, sel catalog.Selection, _ float64) (catalog.ServerCosts, bool) {
	if f.noCosts || sel != corolla {
		return catalog.ServerCosts{}, false
	}
	return f.costs, true
}

type fixedRate float64

func (r fixedRate) Rate(context.Context) float64 { return float64(r) }

func testDeps(cat session.Catalog) session.Deps {
	return session.Deps{
		Catalog:    cat,
		Rates:      fixedRate(58.5),
		Calculator: cost.NewCalculator(cost.DefaultRates(), cost.WithClock(func() time.Time { return testNow })),
		Now:        func() time.Time { return testNow },
	}
}
