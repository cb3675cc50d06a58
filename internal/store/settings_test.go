package store

import (
	"context"
	"testing"
)

func TestGetSetting_AbsentReturnsFalse(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetSetting(context.Background(), "nonexistent.key")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a key that was never set")
	}
}

func TestSetSetting_ThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSetting(context.Background(), "queue.sort", "bitrate_desc"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	v, ok, err := s.GetSetting(context.Background(), "queue.sort")
	if err != nil {
		t.Fatalf("get setting: %v", err)
	}
	if !ok || v != "bitrate_desc" {
		t.Fatalf("expected (\"bitrate_desc\", true), got (%q, %v)", v, ok)
	}
}

func TestSetSetting_OverwritesExistingValue(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSetting(context.Background(), "queue.sort", "alphabetical"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetSetting(context.Background(), "queue.sort", "random"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.GetSetting(context.Background(), "queue.sort")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || v != "random" {
		t.Fatalf("expected the overwritten value, got (%q, %v)", v, ok)
	}
}

func TestListSettings_ReturnsEveryKey(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetSetting(context.Background(), "a", "1"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if err := s.SetSetting(context.Background(), "b", "2"); err != nil {
		t.Fatalf("set b: %v", err)
	}
	all, err := s.ListSettings(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all["a"] != "1" || all["b"] != "2" {
		t.Fatalf("expected both keys present, got %+v", all)
	}
}
