package tools

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

const codeTTL = 5 * time.Minute

type issuedCode struct {
	code     string
	issuedAt time.Time
}

// VerificationCodes issues and checks short-lived SMS verification codes,
// keyed by phone number. One code per number; reissue replaces.
type VerificationCodes struct {
	mu    sync.Mutex
	codes map[string]issuedCode
	now   func() time.Time
}

func NewVerificationCodes() *VerificationCodes {
	return &VerificationCodes{
		codes: make(map[string]issuedCode),
		now:   time.Now,
	}
}

// Issue generates a six-digit code for the given number.
func (v *VerificationCodes) Issue(phone string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes[normalizePhone(phone)] = issuedCode{code: code, issuedAt: v.now()}
	return code, nil
}

// Check verifies a code the caller read back. A matched code is consumed.
func (v *VerificationCodes) Check(phone, code string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := normalizePhone(phone)
	issued, ok := v.codes[key]
	if !ok {
		return false
	}
	if v.now().Sub(issued.issuedAt) > codeTTL {
		delete(v.codes, key)
		return false
	}
	if issued.code != strings.TrimSpace(code) {
		return false
	}
	delete(v.codes, key)
	return true
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
