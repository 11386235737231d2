package signals

import (
	"testing"

	"polymarket-collector/pkg/types"
)

func TestMin1Caps(t *testing.T) {
	t.Parallel()
	if min1(2.5) != 1 {
		t.Errorf("min1(2.5) = %v, want 1", min1(2.5))
	}
	if min1(0.3) != 0.3 {
		t.Errorf("min1(0.3) = %v, want 0.3", min1(0.3))
	}
}

func TestSortSignalsByStrengthDesc(t *testing.T) {
	t.Parallel()
	sigs := []types.MarketSignal{
		{TokenID: "a", Strength: 0.2},
		{TokenID: "b", Strength: 0.9},
		{TokenID: "c", Strength: 0.5},
	}
	sortSignalsByStrengthDesc(sigs)
	if sigs[0].TokenID != "b" || sigs[1].TokenID != "c" || sigs[2].TokenID != "a" {
		t.Errorf("sortSignalsByStrengthDesc() order = %+v", sigs)
	}
}
