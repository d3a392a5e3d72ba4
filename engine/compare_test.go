package engine

import (
	"encoding/json"
	"testing"
)

func TestToFloatCoercions(t *testing.T) {
	cases := []struct {
		in   any
		want float64
		ok   bool
	}{
		{150, 150, true},
		{int64(7), 7, true},
		{uint8(3), 3, true},
		{float32(1.5), 1.5, true},
		{json.Number("2.5"), 2.5, true},
		{"42", 42, true},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		got, ok := toFloat(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("toFloat(%v) = %v,%v, want %v,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEqualValuesCrossType(t *testing.T) {
	if !equalValues(150, 150.0) {
		t.Error("int and float of the same value should be equal")
	}
	if !equalValues("x", "x") {
		t.Error("equal strings should be equal")
	}
	if !equalValues("150", 150) {
		t.Error("numeric strings compare numerically")
	}
	if !equalValues([]any{1, 2}, []any{1, 2}) {
		t.Error("slices should compare deeply")
	}
	if equalValues(map[string]any{"a": 1}, map[string]any{"a": 2}) {
		t.Error("different maps should not be equal")
	}
}

func TestOrderValuesNumericStrings(t *testing.T) {
	// Numeric strings order numerically, not lexically.
	cmp, err := orderValues("9", "10")
	if err != nil {
		t.Fatalf("orderValues failed: %v", err)
	}
	if cmp >= 0 {
		t.Error(`"9" should order below "10"`)
	}

	cmp, err = orderValues("apple", "banana")
	if err != nil {
		t.Fatalf("orderValues failed: %v", err)
	}
	if cmp >= 0 {
		t.Error("non-numeric strings should order lexically")
	}

	if _, err := orderValues([]any{1}, 2); err == nil {
		t.Error("ordering a slice should fail")
	}
}

func TestToListNormalizesSlices(t *testing.T) {
	if list, ok := toList([]any{1, 2}); !ok || len(list) != 2 {
		t.Error("[]any should pass through")
	}
	if list, ok := toList([]string{"a", "b"}); !ok || list[0] != "a" {
		t.Error("[]string should normalize")
	}
	if list, ok := toList([]int{1, 2, 3}); !ok || len(list) != 3 {
		t.Error("other slice kinds should normalize via reflection")
	}
	if _, ok := toList("abc"); ok {
		t.Error("a string is not a list")
	}
}
