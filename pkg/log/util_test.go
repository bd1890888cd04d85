package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestToFields(t *testing.T) {
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantLen  int
		wantKeys []string
	}{
		{"empty", nil, 0, nil},
		{"one pair", []any{"device", "1234"}, 1, []string{"device"}},
		{"three pairs", []any{"a", "x", "b", 123, "c", true}, 3, []string{"a", "b", "c"}},
		{"bare error", []any{err}, 1, []string{"error"}},
		{"error then pair", []any{err, "topic", "1234/ota/pub"}, 2, []string{"error", "topic"}},
		{"named error value", []any{"cause", err}, 1, []string{"cause"}},
		{"ready-made field", []any{zap.String("x", "y"), "n", 42}, 2, []string{"x", "n"}},
		{"stringer value", []any{"d", 5 * time.Second}, 1, []string{"d"}},
		{"bytes value", []any{"payload", []byte{0xf6}}, 1, []string{"payload"}},
		{"trailing value", []any{"key1", "val1", "dangling"}, 2, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, 1, []string{"invalid_key_1"}},
		{"nil value", []any{"a", nil}, 1, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)

			if len(fields) != tt.wantLen {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), tt.wantLen, fields)
			}
			for i, want := range tt.wantKeys {
				if fields[i].Key != want {
					t.Errorf("field %d key = %q, want %q", i, fields[i].Key, want)
				}
			}
		})
	}
}
