package core

import (
	"encoding/json"
	"testing"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half away from zero
		{"-1.005", -101, true},
		{" 2.50 ", 250, true},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			if err != nil || got.Cents() != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents(), err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestMoneyArithmeticIsExact(t *testing.T) {
	var total Money
	for i := 0; i < 10; i++ {
		total = total.Add(MoneyFromCents(10))
	}
	if total.String() != "1.00" {
		t.Fatalf("expected 1.00, got %s", total)
	}
	if got := MoneyFromCents(100000).Sub(MoneyFromCents(12050)).String(); got != "879.50" {
		t.Fatalf("expected 879.50, got %s", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{MoneyFromCents(4200)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"amount":42.00}` {
		t.Fatalf("unexpected encoding %s", b)
	}

	for _, in := range []string{`{"amount":12.345}`, `{"amount":"12.345"}`} {
		var v struct {
			Amount Money `json:"amount"`
		}
		if err := json.Unmarshal([]byte(in), &v); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if v.Amount.Cents() != 1235 {
			t.Fatalf("%s: expected 1235 cents, got %d", in, v.Amount.Cents())
		}
	}
}

func TestMoneyRatio(t *testing.T) {
	if r := MoneyFromCents(500).Ratio(Money{}); r != 0 {
		t.Fatalf("expected 0 for zero denominator, got %v", r)
	}
	if r := MoneyFromCents(2500).Ratio(MoneyFromCents(10000)); r != 0.25 {
		t.Fatalf("expected 0.25, got %v", r)
	}
}

func TestMoneyMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12.34", 1234, true},
		{"-0.01", -1, true},
		{"92233720368547758.07", 9223372036854775807, true},
		{"92233720368547758.08", 0, false},
		{"184467440737095516.33", 0, false},
		{"-92233720368547758.09", 0, false},
	}
	for _, tc := range cases {
		m, err := ParseMoney(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		got, ok := m.MinorUnits()
		if ok != tc.ok || got != tc.want {
			t.Errorf("%q expected (%d, %v), got (%d, %v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}

	if _, ok := MaxBalance.Add(MaxBalance).MinorUnits(); !ok {
		t.Error("expected twice the maximum balance to fit in minor units")
	}
}
