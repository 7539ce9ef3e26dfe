package pricing

import (
	"testing"

	"github.com/voxbridge/voxbridge/pkg/types"
)

func TestCostCents_ZeroTokens(t *testing.T) {
	tbl := Default()
	if got := tbl.CostCents(types.VendorA, 0, 0); got != 0 {
		t.Fatalf("cost of zero tokens = %d, want 0", got)
	}
}

func TestCostCents_CeilingRounding(t *testing.T) {
	// 100 in + 100 out on VENDOR_A:
	// 0.1*0.03 + 0.1*0.06 = $0.009 → 0.9 cents → ceil → 1.
	tbl := Default()
	if got := tbl.CostCents(types.VendorA, 100, 100); got != 1 {
		t.Fatalf("cost = %d, want 1", got)
	}
}

func TestCostCents_ExactCents(t *testing.T) {
	// 1000 in + 1000 out on VENDOR_A: 0.03 + 0.06 = $0.09 → 9 cents exactly.
	tbl := Default()
	if got := tbl.CostCents(types.VendorA, 1000, 1000); got != 9 {
		t.Fatalf("cost = %d, want 9", got)
	}
}

func TestCostCents_NonNegative(t *testing.T) {
	tbl := Default()
	for _, p := range []types.Provider{types.VendorA, types.VendorB, types.Provider("UNKNOWN")} {
		for in := 0; in <= 5000; in += 917 {
			for out := 0; out <= 5000; out += 733 {
				if got := tbl.CostCents(p, in, out); got < 0 {
					t.Fatalf("cost(%s, %d, %d) = %d, want >= 0", p, in, out, got)
				}
			}
		}
	}
}

func TestCostCents_SuperadditivityWithinOneCent(t *testing.T) {
	// Splitting a call can save at most one cent of rounding:
	// cost(a+b, c+d) >= cost(a, c) + cost(b, d) - 1.
	tbl := Default()
	cases := [][4]int{
		{100, 200, 50, 70},
		{1, 1, 1, 1},
		{999, 1, 999, 1},
		{1500, 2500, 300, 4000},
	}
	for _, c := range cases {
		a, b, cc, d := c[0], c[1], c[2], c[3]
		whole := tbl.CostCents(types.VendorB, a+b, cc+d)
		parts := tbl.CostCents(types.VendorB, a, cc) + tbl.CostCents(types.VendorB, b, d)
		if whole < parts-1 {
			t.Fatalf("cost(%d+%d, %d+%d): whole=%d parts=%d, want whole >= parts-1",
				a, b, cc, d, whole, parts)
		}
	}
}

func TestCostCents_UnknownProviderIsFree(t *testing.T) {
	tbl := Default()
	if got := tbl.CostCents(types.Provider("MYSTERY"), 10000, 10000); got != 0 {
		t.Fatalf("unknown provider cost = %d, want 0", got)
	}
}

func TestSnapshotFor_CopiesRate(t *testing.T) {
	tbl := Default()
	snap := tbl.SnapshotFor(types.VendorA)
	if snap.Provider != types.VendorA {
		t.Fatalf("snapshot provider = %s, want VENDOR_A", snap.Provider)
	}
	if snap.Rate != tbl.Rate(types.VendorA) {
		t.Fatalf("snapshot rate %+v differs from table rate %+v", snap.Rate, tbl.Rate(types.VendorA))
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	rates := map[types.Provider]Rate{
		types.VendorA: {InputPerKTokens: 1, OutputPerKTokens: 1},
	}
	tbl := NewTable(rates)
	rates[types.VendorA] = Rate{InputPerKTokens: 99, OutputPerKTokens: 99}
	if got := tbl.Rate(types.VendorA).InputPerKTokens; got != 1 {
		t.Fatalf("table rate mutated through caller map: %v", got)
	}
}
