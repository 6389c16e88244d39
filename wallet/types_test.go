package wallet

import (
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/base58"
)

func TestAddressRoundTrip(t *testing.T) {
	var account Account
	for i := 0; i < 32; i++ {
		account.SpendPublic[i] = byte(0x10 + i)
		account.ViewPublic[i] = byte(0x80 + i)
	}

	addr := account.Address()
	if addr == "" {
		t.Fatal("expected non-empty address")
	}

	got, err := ParseAddress(addr)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if got.SpendPublicKey != account.SpendPublic || got.ViewPublicKey != account.ViewPublic {
		t.Fatalf("ParseAddress: pubkey mismatch")
	}
}

func TestAddressRejectsTypo(t *testing.T) {
	var account Account
	account.SpendPublic[0] = 1
	account.ViewPublic[0] = 2
	addr := account.Address()

	mut := mutateLastChar(addr)
	if mut == addr {
		t.Fatal("expected mutated address to differ")
	}
	if _, err := ParseAddress(mut); err == nil {
		t.Fatal("expected ParseAddress to reject a mutated checksum")
	}
}

func TestAddressRejectsTooShort(t *testing.T) {
	short := base58.Encode([]byte{1, 2, 3})
	if _, err := ParseAddress(short); err == nil {
		t.Fatal("expected ParseAddress to reject a too-short payload")
	}
}

func mutateLastChar(s string) string {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	last := s[len(s)-1]
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] != last {
			out := []byte(s)
			out[len(out)-1] = alphabet[i]
			return string(out)
		}
	}
	return strings.TrimSuffix(s, string(last)) + "1"
}
