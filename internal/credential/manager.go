// Package credential turns the bound App identity into short-lived
// installation tokens. A Manager is an owned value: it caches one
// token in locked memory, refreshes it before expiry, and lets at most
// one refresh run at a time.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/repogate/internal/clock"
	"github.com/ppiankov/repogate/internal/secret"
)

// DefaultMargin is how long before expiry a token stops being reused.
const DefaultMargin = 5 * time.Minute

// ErrRejected means GitHub refused the assertion or the installation
// (HTTP 401/403). It is never retried.
var ErrRejected = errors.New("credential: installation credential rejected")

// Token is an issued installation token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Assertions signs App assertions.
type Assertions interface {
	Sign() (string, error)
}

// Exchanger trades an assertion for an installation token.
type Exchanger interface {
	ExchangeInstallationToken(ctx context.Context, assertion string, installationID int64) (Token, error)
}

// Status is the non-secret cache state.
type Status struct {
	Cached      bool      `json:"cached"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	LastRefresh time.Time `json:"lastRefresh,omitempty"`
	Refreshes   int       `json:"refreshes"`
	Failures    int       `json:"failures"`
}

// Options configures a Manager.
type Options struct {
	InstallationID int64
	Signer         Assertions
	Exchanger      Exchanger
	Clock          clock.Clock
	Margin         time.Duration
	Logger         *slog.Logger
}

// Manager is safe for concurrent use.
type Manager struct {
	installationID int64
	signer         Assertions
	exchanger      Exchanger
	clock          clock.Clock
	margin         time.Duration
	logger         *slog.Logger

	// refresh is a single-slot semaphore held while a refresh runs.
	refresh chan struct{}

	mu          sync.Mutex
	token       *secret.Buffer
	expiresAt   time.Time
	lastRefresh time.Time
	refreshes   int
	failures    int
}

// NewManager builds a Manager. It performs no I/O.
func NewManager(opts Options) (*Manager, error) {
	if opts.Signer == nil || opts.Exchanger == nil {
		return nil, errors.New("credential: signer and exchanger are required")
	}
	if opts.InstallationID < 1 {
		return nil, errors.New("credential: installation id must be positive")
	}
	m := &Manager{
		installationID: opts.InstallationID,
		signer:         opts.Signer,
		exchanger:      opts.Exchanger,
		clock:          opts.Clock,
		margin:         opts.Margin,
		logger:         opts.Logger,
		refresh:        make(chan struct{}, 1),
	}
	if m.clock == nil {
		m.clock = clock.Real()
	}
	if m.margin <= 0 {
		m.margin = DefaultMargin
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m, nil
}

// BearerCredential returns a valid installation token, refreshing it
// when missing or within the margin of expiry.
func (m *Manager) BearerCredential(ctx context.Context) (string, error) {
	if v, ok := m.cached(); ok {
		return v, nil
	}

	select {
	case m.refresh <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.refresh }()

	// Another caller may have refreshed while we waited.
	if v, ok := m.cached(); ok {
		return v, nil
	}
	return m.doRefresh(ctx)
}

// Prime performs one refresh so an unusable installation is reported
// before serving.
func (m *Manager) Prime(ctx context.Context) error {
	_, err := m.BearerCredential(ctx)
	return err
}

// Invalidate drops the cached token, for example after a 401 from a
// call that used it.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked()
}

// Status reports cache state without the token.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Cached:      m.token != nil && m.clock.Now().Before(m.expiresAt.Add(-m.margin)),
		ExpiresAt:   m.expiresAt,
		LastRefresh: m.lastRefresh,
		Refreshes:   m.refreshes,
		Failures:    m.failures,
	}
}

// Close wipes the cached token.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropLocked()
}

func (m *Manager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil || !m.clock.Now().Before(m.expiresAt.Add(-m.margin)) {
		return "", false
	}
	v, err := m.token.String()
	if err != nil {
		return "", false
	}
	return v, true
}

func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	assertion, err := m.signer.Sign()
	if err != nil {
		m.recordFailure()
		return "", err
	}

	tok, err := m.exchanger.ExchangeInstallationToken(ctx, assertion, m.installationID)
	if err != nil {
		m.recordFailure()
		if errors.Is(err, ErrRejected) {
			m.logger.Warn("installation credential rejected")
			return "", err
		}
		return "", fmt.Errorf("credential: exchange: %w", err)
	}
	if tok.Value == "" || tok.ExpiresAt.IsZero() {
		m.recordFailure()
		return "", errors.New("credential: exchange returned an incomplete token")
	}

	buf, err := secret.NewFromString(tok.Value)
	if err != nil {
		m.recordFailure()
		return "", fmt.Errorf("credential: store token: %w", err)
	}

	m.mu.Lock()
	m.dropLocked()
	m.token = buf
	m.expiresAt = tok.ExpiresAt
	m.lastRefresh = m.clock.Now()
	m.refreshes++
	m.mu.Unlock()

	if !buf.Locked() {
		m.logger.Debug("token buffer not mlocked")
	}
	m.logger.Info("installation credential refreshed", "expires_at", tok.ExpiresAt.UTC())
	return tok.Value, nil
}

func (m *Manager) recordFailure() {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()
}

func (m *Manager) dropLocked() error {
	if m.token == nil {
		return nil
	}
	err := m.token.Close()
	m.token = nil
	m.expiresAt = time.Time{}
	return err
}
