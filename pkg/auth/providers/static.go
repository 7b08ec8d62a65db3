package providers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

var _ AuthProvider = &StaticAuthProvider{}

// StaticAuthProvider maps fixed tokens to player ids. It is meant for local
// runs and tests where no identity provider is available.
type StaticAuthProvider struct {
	tokens map[string]string
}

func NewStaticAuthProvider(tokens map[string]string) *StaticAuthProvider {
	copied := make(map[string]string, len(tokens))
	for token, uid := range tokens {
		copied[token] = uid
	}
	return &StaticAuthProvider{tokens: copied}
}

// ParseStaticTokens parses "token:uid" pairs separated by commas.
func ParseStaticTokens(s string) (map[string]string, error) {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, uid, ok := strings.Cut(pair, ":")
		if !ok || token == "" || uid == "" {
			return nil, fmt.Errorf("invalid token pair %q", pair)
		}
		tokens[token] = uid
	}
	return tokens, nil
}

func (p *StaticAuthProvider) VerifyToken(ctx context.Context, idToken string) (*TokenClaims, error) {
	for token, uid := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(idToken)) == 1 {
			return &TokenClaims{UID: uid}, nil
		}
	}
	return nil, ErrInvalidToken
}
