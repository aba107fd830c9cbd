package masking

import "testing"

func TestMaskSecret(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"abc":              "****",
		"sk_live_12345678": "sk_live_****5678",
		"passphrase-value": "****alue",
	}
	for in, want := range cases {
		if got := MaskSecret(in); got != want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskFields_OnlySensitiveKeys(t *testing.T) {
	out := MaskFields(map[string]any{
		"signature":      "0123456789abcdef",
		"payment_status": "COMPLETE",
		"nested": map[string]any{
			"merchant_key": "46f0cd694581a",
			"passphrase":   "jt7NOE43FZPn",
			"amount_gross": "99.00",
		},
	})

	if out["payment_status"] != "COMPLETE" {
		t.Fatalf("expected payment_status untouched, got %v", out["payment_status"])
	}
	if out["signature"] != "0123456789abcdef" {
		t.Fatalf("expected signature kept for replay, got %v", out["signature"])
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map")
	}
	if nested["merchant_key"] != "****581a" {
		t.Fatalf("expected masked merchant_key, got %v", nested["merchant_key"])
	}
	if nested["passphrase"] != "****FZPn" {
		t.Fatalf("expected masked passphrase, got %v", nested["passphrase"])
	}
	if nested["amount_gross"] != "99.00" {
		t.Fatalf("expected amount untouched, got %v", nested["amount_gross"])
	}
}
