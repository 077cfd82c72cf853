package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"rfc3339 offset", "2024-01-02T05:04:05+02:00", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"naive micros", "2024-01-02T03:04:05.000123", time.Date(2024, 1, 2, 3, 4, 5, 123000, time.UTC), false},
		{"naive seconds", "2024-01-02T03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"space separated", "2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), false},
		{"empty", "", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	var zero Timestamp
	data, err := json.Marshal(zero)
	if err != nil {
		t.Fatalf("marshal zero: %v", err)
	}
	if string(data) != "null" {
		t.Errorf("zero timestamp = %s, want null", data)
	}

	ts := NewTimestamp(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	data, err = json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"2024-06-01T12:00:00Z"` {
		t.Errorf("marshal = %s", data)
	}

	var decoded Timestamp
	if err := json.Unmarshal([]byte(`null`), &decoded); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if !decoded.IsZero() {
		t.Error("null should decode to zero")
	}
	if err := json.Unmarshal([]byte(`42`), &decoded); err == nil {
		t.Error("expected error for numeric timestamp")
	}
}
