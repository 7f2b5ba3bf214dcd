package session

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	codeLength = 6
	codeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// generateCode generates a random join code
func generateCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// looksLikeCode reports whether an identifier is a join code rather than a session id.
func looksLikeCode(identifier string) bool {
	if len(identifier) != codeLength {
		return false
	}
	for _, r := range strings.ToUpper(identifier) {
		if !strings.ContainsRune(codeChars, r) {
			return false
		}
	}
	return true
}
