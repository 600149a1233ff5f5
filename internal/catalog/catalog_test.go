package catalog

import (
	"context"
	"testing"
)

func TestStaticSourceReturnsCopy(t *testing.T) {
	src := NewStaticSource(nil)
	first, err := src.ListCombos(context.Background(), "shop-1")
	if err != nil {
		t.Fatalf("ListCombos: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("demo catalog is empty")
	}

	first[0].Stock = -999
	second, _ := src.ListCombos(context.Background(), "shop-1")
	if second[0].Stock == -999 {
		t.Fatal("ListCombos shares its backing slice with callers")
	}
}

func TestFallbackPickMatchesMentionedProduct(t *testing.T) {
	combos := []Combo{
		{ID: "A", Products: []string{"ao_thun_basic"}, Stock: 3, Price: 199000},
		{ID: "B", Products: []string{"ao_hoodie"}, Stock: 2, Price: 499000},
	}
	pick := FallbackPick(combos, "how much is the ao hoodie?")
	if pick == nil || pick.ID != "B" {
		t.Fatalf("pick = %+v, want combo B", pick)
	}
}

func TestFallbackPickCheapestWhenNoMention(t *testing.T) {
	combos := []Combo{
		{ID: "A", Products: []string{"ao_thun_basic"}, Stock: 3, Price: 199000},
		{ID: "B", Products: []string{"ao_hoodie"}, Stock: 2, Price: 499000},
	}
	pick := FallbackPick(combos, "what are your prices like?")
	if pick == nil || pick.ID != "A" {
		t.Fatalf("pick = %+v, want cheapest in-stock combo A", pick)
	}
}

func TestFallbackPickSkipsOutOfStock(t *testing.T) {
	combos := []Combo{
		{ID: "A", Products: []string{"ao_hoodie"}, Stock: 0, Price: 199000},
	}
	if pick := FallbackPick(combos, "hoodie price?"); pick != nil {
		t.Fatalf("pick = %+v, want nil with nothing in stock", pick)
	}
}
