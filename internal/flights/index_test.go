package flights

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestActiveFlightIndex(t *testing.T) {
	x := NewActiveFlightIndex()
	if _, ok := x.Get("aaaaaa"); ok {
		t.Error("Expected miss on empty index")
	}

	x.Set("aaaaaa", 1)
	x.Set("bbbbbb", 2)
	x.Set("aaaaaa", 3)
	if id, ok := x.Get("aaaaaa"); !ok || id != 3 {
		t.Errorf("Expected 3, got %d/%v", id, ok)
	}
	if x.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", x.Len())
	}

	snap := x.Snapshot()
	x.Delete("bbbbbb")
	if _, ok := snap["bbbbbb"]; !ok {
		t.Error("Expected snapshot unaffected by later writes")
	}
	if _, ok := x.Get("bbbbbb"); ok {
		t.Error("Expected bbbbbb deleted")
	}
}

func TestRehydrate(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	open, _ := store.CreateFlight(ctx, NewFlight{ICAO: "aaaaaa", TakeoffTime: t0})
	closed, _ := store.CreateFlight(ctx, NewFlight{ICAO: "bbbbbb", TakeoffTime: t0})
	landed := t0.Add(time.Hour)
	store.UpdateFlight(ctx, closed, FlightPatch{LandingTime: &landed})
	store.getOpenErrs = map[string]error{"dddddd": errors.New("db locked")}

	x := NewActiveFlightIndex()
	n, err := x.Rehydrate(ctx, store, []string{"aaaaaa", "bbbbbb", "cccccc", "dddddd"})
	if n != 1 {
		t.Errorf("Expected 1 flight loaded, got %d", n)
	}
	if err == nil {
		t.Error("Expected lookup failure reported")
	}
	if id, ok := x.Get("aaaaaa"); !ok || id != open {
		t.Errorf("Expected flight %d for aaaaaa, got %d/%v", open, id, ok)
	}
	if _, ok := x.Get("bbbbbb"); ok {
		t.Error("Expected closed flight not loaded")
	}
}
