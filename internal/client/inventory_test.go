package client

import (
	"strings"
	"testing"
	"time"
)

const sampleIndex = `1:0:d=2024031000:PRMSL:mean sea level:3 hour fcst:
2:990:d=2024031000:UGRD:850 mb:3 hour fcst:
3:2100:d=2024031000:VGRD:850 mb:3 hour fcst:
3.2:2100:d=2024031000:VGRD:850 mb:3 hour fcst:
4:3300:d=2024031000:UGRD:500 mb:3 hour fcst:
`

// TestParseInventory verifies record fields and that extents come from the
// next record's offset, with the last record open-ended.
func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader(sampleIndex))
	if err != nil {
		t.Fatalf("ParseInventory() error = %v", err)
	}
	if len(inv) != 4 {
		t.Fatalf("len(inv) = %d, want 4 (sub-record skipped)", len(inv))
	}

	u := inv[1]
	if u.Number != 2 || u.Offset != 990 || u.Extent != 1110 {
		t.Errorf("UGRD record = %+v, want number 2 offset 990 extent 1110", u)
	}
	if u.Variable != "UGRD" || u.Level != "850 mb" || u.Forecast != "3 hour fcst" {
		t.Errorf("UGRD record fields = %+v", u)
	}
	if want := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC); !u.RefTime.Equal(want) {
		t.Errorf("RefTime = %v, want %v", u.RefTime, want)
	}
	if last := inv[3]; last.Extent != -1 {
		t.Errorf("last Extent = %d, want -1", last.Extent)
	}
}

// TestInventoryRecord_RangeHeader verifies inclusive byte ranges and the open-ended tail.
func TestInventoryRecord_RangeHeader(t *testing.T) {
	tests := []struct {
		rec  InventoryRecord
		want string
	}{
		{InventoryRecord{Offset: 990, Extent: 1110}, "bytes=990-2099"},
		{InventoryRecord{Offset: 3300, Extent: -1}, "bytes=3300-"},
	}
	for _, tt := range tests {
		if got := tt.rec.RangeHeader(); got != tt.want {
			t.Errorf("RangeHeader() = %q, want %q", got, tt.want)
		}
	}
}

// TestInventory_Find verifies lookup by variable and level.
func TestInventory_Find(t *testing.T) {
	inv, err := ParseInventory(strings.NewReader(sampleIndex))
	if err != nil {
		t.Fatal(err)
	}
	if rec, ok := inv.Find("VGRD", "850 mb"); !ok || rec.Offset != 2100 {
		t.Errorf("Find(VGRD, 850 mb) = %+v, %v", rec, ok)
	}
	if _, ok := inv.Find("VGRD", "500 mb"); ok {
		t.Error("Find(VGRD, 500 mb) found a record, want none")
	}
}

// TestParseInventory_Errors verifies malformed lines are rejected with the line number.
func TestParseInventory_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "1:0:d=2024031000:UGRD\n"},
		{"bad record number", "x:0:d=2024031000:UGRD:850 mb:anl:\n"},
		{"bad offset", "1:abc:d=2024031000:UGRD:850 mb:anl:\n"},
		{"bad date", "1:0:2024031000:UGRD:850 mb:anl:\n"},
		{"offsets not increasing", "1:100:d=2024031000:UGRD:850 mb:anl:\n2:50:d=2024031000:VGRD:850 mb:anl:\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInventory(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("ParseInventory() error = nil, want error")
			}
			if !strings.Contains(err.Error(), "line") {
				t.Errorf("error %q does not name the line", err)
			}
		})
	}
}
