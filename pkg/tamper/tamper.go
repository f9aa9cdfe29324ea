// Package tamper issues and verifies the keyed digest that binds a
// transaction reference to the amount and payer agreed at creation. A later
// confirmation call cannot claim a different amount without failing Verify.
package tamper

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

type Guard struct {
	secret []byte
}

func NewGuard(secret []byte) *Guard {
	return &Guard{secret: secret}
}

// Issue returns the access token for the canonical
// (reference, minor amount, payer) tuple.
func (g *Guard) Issue(reference string, minorAmount int64, payerID string) string {
	return hex.EncodeToString(g.digest(reference, minorAmount, payerID))
}

// Verify recomputes the digest and compares in constant time.
func (g *Guard) Verify(token, reference string, minorAmount int64, payerID string) bool {
	want := g.digest(reference, minorAmount, payerID)
	got, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func (g *Guard) digest(reference string, minorAmount int64, payerID string) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(reference))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.FormatInt(minorAmount, 10)))
	mac.Write([]byte{'|'})
	mac.Write([]byte(payerID))
	return mac.Sum(nil)
}
