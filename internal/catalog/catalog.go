package catalog

import (
	"context"
	"strings"
)

// Combo is a sellable product bundle with live stock and a total price.
type Combo struct {
	ID       string   `json:"combo_id"`
	Products []string `json:"products"`
	Stock    int      `json:"stock"`
	Price    float64  `json:"price"`
}

// InStock reports whether the combo can actually be sold.
func (c Combo) InStock() bool { return c.Stock > 0 }

// Source lists the combos a shop can offer right now.
type Source interface {
	ListCombos(ctx context.Context, shopID string) ([]Combo, error)
	Close() error
}

// StaticSource serves a fixed combo list; the demo catalog and tests use it.
type StaticSource struct {
	combos []Combo
}

func NewStaticSource(combos []Combo) *StaticSource {
	if combos == nil {
		combos = DemoCombos()
	}
	return &StaticSource{combos: combos}
}

func (s *StaticSource) ListCombos(_ context.Context, _ string) ([]Combo, error) {
	out := make([]Combo, len(s.combos))
	copy(out, s.combos)
	return out, nil
}

func (s *StaticSource) Close() error { return nil }

// DemoCombos is the seed catalog for local runs.
func DemoCombos() []Combo {
	return []Combo{
		{ID: "DEMO-01", Products: []string{"ao_thun_basic"}, Stock: 25, Price: 199000},
		{ID: "DEMO-02", Products: []string{"ao_so_mi", "quan_tay"}, Stock: 10, Price: 349000},
		{ID: "DEMO-03", Products: []string{"ao_hoodie", "quan_jogger"}, Stock: 7, Price: 499000},
	}
}

// FallbackPick is the deterministic choice used when the combo-selection
// stage fails on a price question: cheapest in-stock combo whose products
// overlap the message, else cheapest in stock overall.
func FallbackPick(combos []Combo, message string) *Combo {
	text := strings.ToLower(message)
	var best, anyStocked *Combo
	for i := range combos {
		c := &combos[i]
		if !c.InStock() {
			continue
		}
		if anyStocked == nil || c.Price < anyStocked.Price {
			anyStocked = c
		}
		for _, product := range c.Products {
			if strings.Contains(text, strings.ToLower(strings.ReplaceAll(product, "_", " "))) ||
				strings.Contains(text, strings.ToLower(product)) {
				if best == nil || c.Price < best.Price {
					best = c
				}
				break
			}
		}
	}
	if best != nil {
		out := *best
		return &out
	}
	if anyStocked != nil {
		out := *anyStocked
		return &out
	}
	return nil
}
