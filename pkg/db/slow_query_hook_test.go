package db

import "testing"

func TestOperationOf(t *testing.T) {
	tests := map[string]string{
		"SELECT doc FROM payments WHERE id = $1": "select",
		"  UPDATE payments SET doc = $1":         "update",
		"":                                       "unknown",
	}
	for sql, want := range tests {
		if got := operationOf(sql); got != want {
			t.Errorf("operationOf(%q) = %q, want %q", sql, got, want)
		}
	}
}
