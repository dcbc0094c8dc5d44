package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization header empty")
	ErrBadHeader    = errors.New("invalid authorization header format")
	ErrNoSubject    = errors.New("token has no subject")
)

// Validator checks access tokens issued by the auth service and returns the
// identity they carry. Token issuance lives outside this process.
type Validator struct {
	alg    string
	pubKey *rsa.PublicKey
	secret []byte
}

func NewHS256Validator(secret string) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret required")
	}
	return &Validator{alg: jwt.SigningMethodHS256.Alg(), secret: []byte(secret)}, nil
}

func NewRS256Validator(pubKeyPath string) (*Validator, error) {
	b, err := os.ReadFile(pubKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read pubkey: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse pubkey: %w", err)
	}
	return &Validator{alg: jwt.SigningMethodRS256.Alg(), pubKey: key}, nil
}

// NewValidator picks the constructor matching alg.
func NewValidator(alg, secret, pubKeyPath string) (*Validator, error) {
	switch strings.ToUpper(alg) {
	case "RS256":
		return NewRS256Validator(pubKeyPath)
	case "HS256":
		return NewHS256Validator(secret)
	default:
		return nil, fmt.Errorf("unsupported alg %q", alg)
	}
}

func (v *Validator) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != v.alg {
		return nil, errors.New("unexpected signing method")
	}
	if v.pubKey != nil {
		return v.pubKey, nil
	}
	return v.secret, nil
}

// Validate returns the subject of a valid token, falling back to the
// user_id claim for tokens minted without sub.
func (v *Validator) Validate(token string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{v.alg}))
	tok, err := parser.Parse(token, v.keyFunc)
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return "", errors.New("invalid token")
	}
	if sub, _ := claims["sub"].(string); sub != "" {
		return sub, nil
	}
	if uid, _ := claims["user_id"].(string); uid != "" {
		return uid, nil
	}
	return "", ErrNoSubject
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", ErrBadHeader
	}
	return parts[1], nil
}
