// Package credentials manages the rotating pool of search API service
// accounts. Each credential carries a daily call quota; the pool always hands
// out the least-used active credential so load spreads evenly, and disables
// credentials the API rejects.
package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/IndexPilot/server/internal/metrics"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

// Pool selects, charges and retires credentials backed by the store.
type Pool struct {
	store   storage.Store
	tokens  *TokenSource
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewPool creates a credential pool.
func NewPool(store storage.Store, tokens *TokenSource, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Pool {
	return &Pool{
		store:   store,
		tokens:  tokens,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Acquire returns the least-used credential with remaining quota.
// Returns storage.ErrNoCredentials when the pool is exhausted.
func (p *Pool) Acquire(ctx context.Context) (storage.Credential, error) {
	return p.store.NextAvailableCredential(ctx)
}

// AccessToken returns a bearer token for the credential, minting one through
// the OAuth token endpoint on cache miss.
func (p *Pool) AccessToken(ctx context.Context, credential storage.Credential) (string, error) {
	if p.tokens == nil {
		return "", fmt.Errorf("credentials: no token source configured")
	}
	return p.tokens.Token(ctx, credential)
}

// Charge records one API call against a credential.
func (p *Pool) Charge(ctx context.Context, credentialID string) error {
	if err := p.store.IncrementCredentialUsage(ctx, credentialID, 1); err != nil {
		return fmt.Errorf("credentials: charge %s: %w", credentialID, err)
	}
	if p.metrics != nil {
		p.metrics.CredentialUsageTotal.WithLabelValues(credentialID).Inc()
	}
	return nil
}

// HandleAPIStatus disables a credential the API refuses. 401 and 403 mean the
// key is revoked or unauthorized; 429 means its project quota is gone for the
// day. Both disable until the nightly reset (admin disables are separate).
func (p *Pool) HandleAPIStatus(ctx context.Context, credentialID string, statusCode int) {
	switch statusCode {
	case 401, 403, 429:
	default:
		return
	}

	if err := p.store.DisableCredential(ctx, credentialID, false); err != nil {
		p.logger.Error().Err(err).Str("credential", credentialID).Msg("credentials.disable_failed")
		return
	}
	p.logger.Warn().
		Str("credential", credentialID).
		Int("status", statusCode).
		Msg("credentials.disabled")
	p.refreshGauges(ctx)
}

// RemainingQuota reports total remaining daily calls across the pool.
func (p *Pool) RemainingQuota(ctx context.Context) (int, error) {
	return p.store.TotalRemainingQuota(ctx)
}

// ResetAll zeroes usage counters at the daily boundary and re-enables
// quota-disabled credentials. Admin-disabled credentials stay down.
func (p *Pool) ResetAll(ctx context.Context, now time.Time) (int, error) {
	count, err := p.store.ResetCredentials(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("credentials: reset: %w", err)
	}
	if p.tokens != nil {
		p.tokens.Flush()
	}
	p.logger.Info().Int("count", count).Msg("credentials.reset")
	p.refreshGauges(ctx)
	return count, nil
}

func (p *Pool) refreshGauges(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	if remaining, err := p.store.TotalRemainingQuota(ctx); err == nil {
		p.metrics.CredentialQuotaRemaining.Set(float64(remaining))
	}
	creds, err := p.store.ListCredentials(ctx)
	if err != nil {
		return
	}
	disabled := 0
	for _, c := range creds {
		if !c.IsActive {
			disabled++
		}
	}
	p.metrics.CredentialsDisabled.Set(float64(disabled))
}
