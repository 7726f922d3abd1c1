package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/secret"
)

// Assertion timing. GitHub caps App JWTs at ten minutes; iat is
// backdated to absorb clock skew.
const (
	assertionBackdate = 60 * time.Second
	assertionLifetime = 9 * time.Minute
)

// Signer produces RS256 App assertions.
type Signer struct {
	appID string
	key   *rsa.PrivateKey
	clock clock.Clock
}

// NewSigner reads and parses the PEM key at path. The raw file bytes
// are moved into a locked buffer and wiped once parsed. Errors never
// include the path.
func NewSigner(appID int64, path string, clk clock.Clock) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return nil, fmt.Errorf("credential: private key file is unreadable: %w", err)
	}
	buf, err := secret.NewFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("credential: private key file is empty")
	}
	defer buf.Close()

	pemBytes, err := buf.Bytes()
	if err != nil {
		return nil, fmt.Errorf("credential: private key: %w", err)
	}
	defer secret.Wipe(pemBytes)

	return NewSignerFromPEM(appID, pemBytes, clk)
}

// NewSignerFromPEM parses a PKCS#1 or PKCS#8 RSA key.
func NewSignerFromPEM(appID int64, pemBytes []byte, clk clock.Clock) (*Signer, error) {
	if appID < 1 {
		return nil, errors.New("credential: app id must be positive")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("credential: private key is not a valid RSA PEM key")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Signer{appID: strconv.FormatInt(appID, 10), key: key, clock: clk}, nil
}

// Sign returns a fresh assertion.
func (s *Signer) Sign() (string, error) {
	now := s.clock.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-assertionBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("credential: sign assertion: %w", err)
	}
	return signed, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() *rsa.PublicKey { return &s.key.PublicKey }
