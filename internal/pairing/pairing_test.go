package pairing

import (
	"strings"
	"testing"
)

func TestRedeemCaseInsensitiveSingleUse(t *testing.T) {
	c := NewCodes()
	code := c.Generate()
	if len(code) != 6 {
		t.Errorf("code = %q", code)
	}
	if !c.Redeem(strings.ToLower(code)) {
		t.Error("lowercase redeem failed")
	}
	if c.Redeem(code) {
		t.Error("code redeemed twice")
	}
}

func TestRedeemUnknown(t *testing.T) {
	c := NewCodes()
	if c.Redeem("NOPE99") {
		t.Error("unknown code redeemed")
	}
}

func TestCodesUnique(t *testing.T) {
	c := NewCodes()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code := c.Generate()
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
}
