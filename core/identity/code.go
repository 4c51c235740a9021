package identity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

var (
	salt    = []byte("campus.core.identity.code")
	NowFunc = time.Now // mockable

	// GenerateCodeFunc returns a random numeric code of n digits. mockable
	GenerateCodeFunc = generateCode
)

func generateCode(n int) (string, error) {
	if n < 1 || n > core.MaxCodeLength {
		return "", errors.Errorf("code length %d out of range 1..%d", n, core.MaxCodeLength)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

// hashCode binds code to its target and purpose under secretKey.
func hashCode(secretKey, target string, purpose Purpose, code string) string {
	key := sha256.Sum256(append(salt, secretKey...))
	h := hmac.New(sha256.New, key[:])
	h.Write([]byte(strings.Join([]string{string(purpose), target, code}, "|")))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// IsCodeWellFormed checks that candidate is exactly n decimal digits.
func IsCodeWellFormed(candidate string, n int) bool {
	return len(candidate) == n && isDigits(candidate)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
