package store

import (
	"context"
	"testing"
	"time"

	"polymarket-collector/pkg/types"
)

func TestUpsertAndGetResolution(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := types.Market{ConditionID: "cond-resolved-1", Question: "q", Active: true, Closed: true}
	if err := st.UpsertMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMarket() = %v", err)
	}

	r := types.Resolution{
		ConditionID:     m.ConditionID,
		Outcome:         "Yes",
		WinnerTokenID:   "tok-yes",
		PayoutPrice:     1.0,
		DetectionMethod: "polling",
		ResolvedAt:      time.Now().UTC(),
	}
	if err := st.UpsertResolution(ctx, r); err != nil {
		t.Fatalf("UpsertResolution() = %v", err)
	}

	got, err := st.GetResolution(ctx, m.ConditionID)
	if err != nil {
		t.Fatalf("GetResolution() = %v", err)
	}
	if got == nil {
		t.Fatal("GetResolution() = nil, want a resolution")
	}
	if got.WinnerTokenID != "tok-yes" {
		t.Errorf("GetResolution().WinnerTokenID = %q, want tok-yes", got.WinnerTokenID)
	}
}

func TestGetResolutionMissingReturnsNil(t *testing.T) {
	st := openTestStore(t)
	got, err := st.GetResolution(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("GetResolution() = %v", err)
	}
	if got != nil {
		t.Errorf("GetResolution() = %+v, want nil", got)
	}
}

func TestGetUnresolvedMarketsOnlyClosedWithoutResolution(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	closedUnresolved := types.Market{ConditionID: "cond-unresolved-1", Question: "q", Closed: true}
	closedResolved := types.Market{ConditionID: "cond-unresolved-2", Question: "q", Closed: true}
	open := types.Market{ConditionID: "cond-unresolved-3", Question: "q", Closed: false}

	for _, m := range []types.Market{closedUnresolved, closedResolved, open} {
		if err := st.UpsertMarket(ctx, m); err != nil {
			t.Fatalf("UpsertMarket() = %v", err)
		}
	}
	if err := st.UpsertResolution(ctx, types.Resolution{
		ConditionID: closedResolved.ConditionID,
		Outcome:     "Yes",
		ResolvedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("UpsertResolution() = %v", err)
	}

	unresolved, err := st.GetUnresolvedMarkets(ctx)
	if err != nil {
		t.Fatalf("GetUnresolvedMarkets() = %v", err)
	}

	var found bool
	for _, m := range unresolved {
		if m.ConditionID == closedResolved.ConditionID {
			t.Error("GetUnresolvedMarkets() included an already-resolved market")
		}
		if m.ConditionID == open.ConditionID {
			t.Error("GetUnresolvedMarkets() included an open market")
		}
		if m.ConditionID == closedUnresolved.ConditionID {
			found = true
		}
	}
	if !found {
		t.Error("GetUnresolvedMarkets() missing the closed, unresolved market")
	}
}
