package upstream

import (
	"log/slog"
	"testing"
	"time"
)

func newTestFeed() *TradeFeed {
	return NewTradeFeed("wss://example.invalid", []string{"tok-a"}, time.Second, slog.Default())
}

func TestDispatchSingleLastTradePriceEvent(t *testing.T) {
	t.Parallel()
	f := newTestFeed()
	f.dispatch([]byte(`{"event_type":"last_trade_price","asset_id":"tok-a","side":"BUY","price":"0.5","size":"10","timestamp":"1690000000000"}`))

	select {
	case evt := <-f.events:
		if evt.AssetID != "tok-a" || evt.Price != "0.5" {
			t.Errorf("dispatch() = %+v", evt)
		}
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestDispatchIgnoresOtherEventTypes(t *testing.T) {
	t.Parallel()
	f := newTestFeed()
	f.dispatch([]byte(`{"event_type":"book","asset_id":"tok-a"}`))

	select {
	case evt := <-f.events:
		t.Fatalf("did not expect an event, got %+v", evt)
	default:
	}
}

func TestDispatchHandlesArrayOfEvents(t *testing.T) {
	t.Parallel()
	f := newTestFeed()
	f.dispatch([]byte(`[{"event_type":"last_trade_price","asset_id":"tok-a","price":"0.1","size":"1"},{"event_type":"book","asset_id":"tok-a"}]`))

	count := 0
	for {
		select {
		case <-f.events:
			count++
		default:
			if count != 1 {
				t.Errorf("got %d events, want 1", count)
			}
			return
		}
	}
}

func TestDispatchIgnoresMalformedFrame(t *testing.T) {
	t.Parallel()
	f := newTestFeed()
	f.dispatch([]byte(`not json`))

	select {
	case evt := <-f.events:
		t.Fatalf("did not expect an event, got %+v", evt)
	default:
	}
}
