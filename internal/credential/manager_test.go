package credential

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/repogate/internal/clock"
)

var testKey = func() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("generating test RSA key: " + err.Error())
	}
	return key
}()

func pkcs1PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testKey)})
}

func pkcs8PEM(t *testing.T) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(testKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

type fakeSigner struct{}

func (fakeSigner) Sign() (string, error) { return "assertion", nil }

type fakeExchanger struct {
	calls   atomic.Int32
	delay   time.Duration
	err     error
	clock   clock.Clock
	ttl     time.Duration
	lastIID atomic.Int64
}

func (f *fakeExchanger) ExchangeInstallationToken(ctx context.Context, assertion string, installationID int64) (Token, error) {
	n := f.calls.Add(1)
	f.lastIID.Store(installationID)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Token{}, f.err
	}
	return Token{
		Value:     "ghs_token" + strings.Repeat("x", int(n)),
		ExpiresAt: f.clock.Now().Add(f.ttl),
	}, nil
}

func newTestManager(t *testing.T, ex *fakeExchanger, clk clock.Clock) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		InstallationID: 42,
		Signer:         fakeSigner{},
		Exchanger:      ex,
		Clock:          clk,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSignerClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSignerFromPEM(12345, pkcs1PEM(), clock.Fake(now))
	require.NoError(t, err)

	signed, err := s.Sign()
	require.NoError(t, err)

	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(signed, &claims, func(tok *jwt.Token) (any, error) {
		return s.PublicKey(), nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithTimeFunc(func() time.Time { return now }))
	require.NoError(t, err)
	require.True(t, tok.Valid)

	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, now.Add(-60*time.Second).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, now.Add(9*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestSignerAcceptsPKCS8(t *testing.T) {
	_, err := NewSignerFromPEM(1, pkcs8PEM(t), nil)
	require.NoError(t, err)
}

func TestSignerRejectsBadKeys(t *testing.T) {
	_, err := NewSignerFromPEM(1, []byte("not a key"), nil)
	require.Error(t, err)

	_, err = NewSignerFromPEM(0, pkcs1PEM(), nil)
	require.Error(t, err)
}

func TestNewSignerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.pem")
	require.NoError(t, os.WriteFile(path, pkcs1PEM(), 0o600))

	s, err := NewSigner(7, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "7", s.appID)

	missing := filepath.Join(dir, "hidden-name.pem")
	_, err = NewSigner(7, missing, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hidden-name")
}

func TestBearerCredentialCaches(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ex := &fakeExchanger{clock: clk, ttl: time.Hour}
	m := newTestManager(t, ex, clk)

	first, err := m.BearerCredential(context.Background())
	require.NoError(t, err)
	second, err := m.BearerCredential(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ex.calls.Load())
	assert.EqualValues(t, 42, ex.lastIID.Load())
	assert.True(t, m.Status().Cached)
}

func TestRefreshInsideMargin(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ex := &fakeExchanger{clock: clk, ttl: time.Hour}
	m := newTestManager(t, ex, clk)

	_, err := m.BearerCredential(context.Background())
	require.NoError(t, err)

	clk.Advance(54 * time.Minute)
	_, err = m.BearerCredential(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, ex.calls.Load(), "still outside the margin")

	clk.Advance(time.Minute)
	assert.False(t, m.Status().Cached)
	_, err = m.BearerCredential(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ex.calls.Load(), "expiresAt - margin reached")
}

func TestSingleRefreshInFlight(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ex := &fakeExchanger{clock: clk, ttl: time.Hour, delay: 50 * time.Millisecond}
	m := newTestManager(t, ex, clk)

	var wg sync.WaitGroup
	results := make([]string, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := m.BearerCredential(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, ex.calls.Load())
	for _, v := range results {
		assert.Equal(t, results[0], v)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ex := &fakeExchanger{clock: clk, ttl: time.Hour, delay: time.Second}
	m := newTestManager(t, ex, clk)

	go func() { _, _ = m.BearerCredential(context.Background()) }()
	require.Eventually(t, func() bool { return ex.calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.BearerCredential(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRejectedIsSurfaced(t *testing.T) {
	clk := clock.Fake(time.Now())
	ex := &fakeExchanger{clock: clk, ttl: time.Hour, err: ErrRejected}
	m := newTestManager(t, ex, clk)

	err := m.Prime(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, m.Status().Failures)
	assert.False(t, m.Status().Cached)
}

func TestTransientFailureIsWrapped(t *testing.T) {
	clk := clock.Fake(time.Now())
	boom := errors.New("connection reset")
	ex := &fakeExchanger{clock: clk, ttl: time.Hour, err: boom}
	m := newTestManager(t, ex, clk)

	_, err := m.BearerCredential(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	clk := clock.Fake(time.Now())
	ex := &fakeExchanger{clock: clk, ttl: time.Hour}
	m := newTestManager(t, ex, clk)

	_, err := m.BearerCredential(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.BearerCredential(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ex.calls.Load())
	assert.Equal(t, 2, m.Status().Refreshes)
}
