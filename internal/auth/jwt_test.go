package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestValidator_HS256(t *testing.T) {
	req := require.New(t)
	v, err := NewValidator("hs256", "secret", "")
	req.NoError(err)
	exp := time.Now().Add(time.Hour).Unix()

	sub, err := v.Validate(sign(t, "secret", jwt.MapClaims{"sub": "alice", "exp": exp}))
	req.NoError(err)
	req.Equal("alice", sub)

	sub, err = v.Validate(sign(t, "secret", jwt.MapClaims{"user_id": "bob", "exp": exp}))
	req.NoError(err)
	req.Equal("bob", sub)

	_, err = v.Validate(sign(t, "other", jwt.MapClaims{"sub": "alice", "exp": exp}))
	req.Error(err)

	_, err = v.Validate(sign(t, "secret", jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(-time.Minute).Unix()}))
	req.Error(err)

	_, err = v.Validate(sign(t, "secret", jwt.MapClaims{"exp": exp}))
	req.ErrorIs(err, ErrNoSubject)
}

func TestValidator_RS256(t *testing.T) {
	req := require.New(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	req.NoError(err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	req.NoError(err)
	path := filepath.Join(t.TempDir(), "pub.pem")
	req.NoError(os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), 0o600))

	v, err := NewValidator("RS256", "", path)
	req.NoError(err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "carol"}).SignedString(key)
	req.NoError(err)
	sub, err := v.Validate(tok)
	req.NoError(err)
	req.Equal("carol", sub)

	// HS256 token must not pass an RS256 validator.
	_, err = v.Validate(sign(t, "secret", jwt.MapClaims{"sub": "carol"}))
	req.Error(err)
}

func TestParseBearerToken(t *testing.T) {
	req := require.New(t)

	tok, err := ParseBearerToken("Bearer abc.def")
	req.NoError(err)
	req.Equal("abc.def", tok)

	_, err = ParseBearerToken("")
	req.ErrorIs(err, ErrMissingToken)
	_, err = ParseBearerToken("Basic abc")
	req.ErrorIs(err, ErrBadHeader)
}
