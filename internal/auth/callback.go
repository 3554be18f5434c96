package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// CallbackSigner binds provider callback addresses to a single generation unit so a
// caller cannot resolve units it did not receive an address for.
type CallbackSigner struct {
	baseURL string
	key     []byte
}

func NewCallbackSigner(baseURL, key string) *CallbackSigner {
	return &CallbackSigner{baseURL: strings.TrimRight(baseURL, "/"), key: []byte(key)}
}

func (s *CallbackSigner) Token(unitID int64) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte("generation:" + strconv.FormatInt(unitID, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *CallbackSigner) Verify(unitID int64, token string) bool {
	want, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(s.Token(unitID))
	return hmac.Equal(got, want)
}

// URL is the address handed to the provider for unitID.
func (s *CallbackSigner) URL(unitID int64) string {
	return fmt.Sprintf("%s/api/generate/callback/%d?token=%s", s.baseURL, unitID, s.Token(unitID))
}
