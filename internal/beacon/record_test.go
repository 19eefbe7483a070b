package beacon

import (
	"testing"
	"time"
)

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "{", `{"alias":"x"}`, `{"lastSeenUtc":"yesterday"}`} {
		if _, err := decodeRecord([]byte(raw)); err == nil {
			t.Fatalf("decodeRecord(%q) succeeded, want error", raw)
		}
	}
}

func TestRecordOwnedBy(t *testing.T) {
	rec := Record{InstanceID: "9F1C-AB"}
	if !rec.OwnedBy("9f1c-ab") {
		t.Fatalf("expected case-insensitive match")
	}
	if rec.OwnedBy("") {
		t.Fatalf("empty id must never match")
	}
	if (Record{}).OwnedBy("") {
		t.Fatalf("empty id must not match an empty record id")
	}
}

func TestRecordFreshAt(t *testing.T) {
	seen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{LastSeenUTC: seen}
	if !rec.FreshAt(seen.Add(TTL), TTL) {
		t.Fatalf("record should be fresh at exactly TTL")
	}
	if rec.FreshAt(seen.Add(TTL+time.Second), TTL) {
		t.Fatalf("record should be stale after TTL")
	}
}
