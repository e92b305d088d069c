package notifyauth

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

const (
	AlgorithmMD5    = "MD5"
	AlgorithmSHA256 = "SHA-256"

	defaultNonceTTL = 24 * time.Hour
)

var (
	ErrSignatureInvalid       = errors.New("notification signature invalid")
	ErrReplayGuardUnavailable = errors.New("notification replay guard unavailable")
)

type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, nonce string) error
}

type Config struct {
	Secret   string
	Identity string
	Realm    string
	NonceTTL time.Duration
}

// Verifier checks that a notification was signed with the shared secret.
// It never looks at the request body.
type Verifier struct {
	secret   string
	identity string
	realm    string
	nonceTTL time.Duration
	nonces   NonceStore
}

func NewVerifier(cfg Config, nonces NonceStore) *Verifier {
	ttl := cfg.NonceTTL
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	return &Verifier{
		secret:   cfg.Secret,
		identity: strings.TrimSpace(cfg.Identity),
		realm:    strings.TrimSpace(cfg.Realm),
		nonceTTL: ttl,
		nonces:   nonces,
	}
}

func (v *Verifier) Verify(ctx context.Context, method, path, header string) (Challenge, error) {
	if v == nil || v.secret == "" {
		return Challenge{}, fmt.Errorf("%w: no shared secret configured", ErrSignatureInvalid)
	}

	c, err := ParseHeader(header)
	if err != nil {
		return Challenge{}, err
	}
	if v.identity != "" && c.Identity != v.identity {
		return c, fmt.Errorf("%w: unexpected identity", ErrSignatureInvalid)
	}
	if v.realm != "" && c.Realm != v.realm {
		return c, fmt.Errorf("%w: unexpected realm", ErrSignatureInvalid)
	}
	if c.URI != "" && c.URI != path {
		return c, fmt.Errorf("%w: uri does not match request path", ErrSignatureInvalid)
	}

	expected, err := Digest(c.Algorithm, c.Identity, c.Realm, v.secret, method, path, c.Nonce)
	if err != nil {
		return c, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(c.Response)) != 1 {
		return c, fmt.Errorf("%w: digest mismatch", ErrSignatureInvalid)
	}

	if v.nonces != nil {
		fresh, err := v.nonces.Claim(ctx, c.Nonce, v.nonceTTL)
		if err != nil {
			return c, fmt.Errorf("%w: %v", ErrReplayGuardUnavailable, err)
		}
		if !fresh {
			return c, fmt.Errorf("%w: nonce replayed", ErrSignatureInvalid)
		}
	}

	return c, nil
}

// Release frees a nonce claimed by Verify so that the provider can redeliver
// a notification that was verified but not stored.
func (v *Verifier) Release(ctx context.Context, nonce string) error {
	if v == nil || v.nonces == nil || strings.TrimSpace(nonce) == "" {
		return nil
	}
	if err := v.nonces.Release(ctx, nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrReplayGuardUnavailable, err)
	}
	return nil
}

// Digest computes H(H(identity:realm:secret):nonce:H(method:path)) as lower
// hex. An empty algorithm means MD5.
func Digest(algorithm, identity, realm, secret, method, path, nonce string) (string, error) {
	newHash, err := hashFor(algorithm)
	if err != nil {
		return "", err
	}
	ha1 := hexHash(newHash, identity+":"+realm+":"+secret)
	ha2 := hexHash(newHash, strings.ToUpper(method)+":"+path)
	return hexHash(newHash, ha1+":"+nonce+":"+ha2), nil
}

// Header renders a Digest authorization header for the given parameters.
func Header(c Challenge) string {
	parts := []string{
		`username="` + c.Identity + `"`,
		`realm="` + c.Realm + `"`,
		`nonce="` + c.Nonce + `"`,
		`uri="` + c.URI + `"`,
		`response="` + c.Response + `"`,
	}
	if c.Algorithm != "" {
		parts = append(parts, "algorithm="+c.Algorithm)
	}
	return "Digest " + strings.Join(parts, ", ")
}

func hashFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", AlgorithmMD5:
		return md5.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureInvalid, algorithm)
	}
}

func hexHash(newHash func() hash.Hash, value string) string {
	h := newHash()
	_, _ = h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
