package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sixking/backend/internal/ledger"
	"github.com/sixking/backend/internal/metrics"
)

// SettlerConfig tunes how hard a credit is retried before it is handed to
// reconciliation.
type SettlerConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// LedgerSettler turns a Decision into ledger movements.
type LedgerSettler struct {
	ledger     ledger.Gateway
	reconciler Reconciler
	metrics    *metrics.Metrics
	cfg        SettlerConfig
}

func NewLedgerSettler(l ledger.Gateway, r Reconciler, m *metrics.Metrics, cfg SettlerConfig) *LedgerSettler {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Second
	}
	if r == nil {
		r = NewMemoryReconciler()
	}
	return &LedgerSettler{ledger: l, reconciler: r, metrics: m, cfg: cfg}
}

// Settle pays the winner 2*stake and annotates the loser, or refunds each
// player listed for a void or aborted pairing. Every movement is keyed by
// match ref, player and kind, so a retried Settle never pays twice.
func (s *LedgerSettler) Settle(ctx context.Context, d Decision) error {
	if d.Ref == "" {
		return fmt.Errorf("decision for match %s has no ledger ref", d.MatchID)
	}

	var errs []error

	switch d.Outcome {
	case OutcomeThreshold, OutcomeForfeit:
		win := ledger.Entry{
			PlayerID:    d.WinnerID,
			MatchID:     d.Ref,
			Kind:        ledger.KindWin,
			Amount:      2 * d.Stake,
			Description: fmt.Sprintf("Won match %s (%s)", d.MatchID, d.Outcome),
		}
		if err := s.credit(ctx, win); err != nil {
			errs = append(errs, err)
		}
		loss := ledger.Entry{
			PlayerID:    d.LoserID,
			MatchID:     d.Ref,
			Kind:        d.LoserKind,
			Amount:      d.Stake,
			Description: fmt.Sprintf("Lost match %s (%s)", d.MatchID, d.Outcome),
		}
		if err := s.ledger.Annotate(ctx, loss); err != nil {
			// Informational only; the stake already left the loser's wallet.
			log.Printf("[SETTLE] Failed to annotate %s for player %s match %s: %v", loss.Kind, loss.PlayerID, d.MatchID, err)
		}
	case OutcomeVoid, OutcomeAborted:
		for _, pid := range d.Refunds {
			refund := ledger.Entry{
				PlayerID:    pid,
				MatchID:     d.Ref,
				Kind:        ledger.KindRefund,
				Amount:      d.Stake,
				Description: "Refund for match " + d.MatchID,
			}
			if err := s.credit(ctx, refund); err != nil {
				errs = append(errs, err)
			}
		}
	default:
		return fmt.Errorf("unknown outcome %q", d.Outcome)
	}

	s.metrics.Settled(string(d.Outcome))
	return errors.Join(errs...)
}

func (s *LedgerSettler) credit(ctx context.Context, e ledger.Entry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval

	attempt := 0
	op := func() (int64, error) {
		attempt++
		bal, err := s.ledger.Credit(ctx, e)
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return 0, backoff.Permanent(err)
		}
		return bal, err
	}

	bal, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsed),
	)
	if err != nil {
		log.Printf("[SETTLE] Credit %s of %d to %s for match %s failed after %d attempts: %v", e.Kind, e.Amount, e.PlayerID, e.MatchID, attempt, err)
		s.escalate(ctx, e, err)
		return fmt.Errorf("credit %s to %s: %w", e.Kind, e.PlayerID, err)
	}
	log.Printf("[SETTLE] Credited %s %d to %s for match %s (balance=%d)", e.Kind, e.Amount, e.PlayerID, e.MatchID, bal)
	return nil
}

func (s *LedgerSettler) escalate(ctx context.Context, e ledger.Entry, cause error) {
	s.metrics.SettlementFailed()
	u := Unresolved{
		MatchID:  e.MatchID,
		PlayerID: e.PlayerID,
		Kind:     e.Kind,
		Amount:   e.Amount,
		Error:    cause.Error(),
		At:       time.Now().UTC(),
	}
	if err := s.reconciler.Escalate(ctx, u); err != nil {
		// Last resort: the log line is the only record of the debt.
		log.Printf("[INTEGRITY] UNRECORDED DEBT match=%s player=%s kind=%s amount=%d: %v", e.MatchID, e.PlayerID, e.Kind, e.Amount, err)
	}
}

// RetryUnresolved re-attempts every escalated credit once and clears the
// ones that succeed. It returns how many were resolved.
func (s *LedgerSettler) RetryUnresolved(ctx context.Context) (int, error) {
	pending, err := s.reconciler.Pending(ctx)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, u := range pending {
		_, err := s.ledger.Credit(ctx, ledger.Entry{
			PlayerID:    u.PlayerID,
			MatchID:     u.MatchID,
			Kind:        u.Kind,
			Amount:      u.Amount,
			Description: "Reconciled credit for match " + u.MatchID,
		})
		if err != nil {
			log.Printf("[SETTLE] Reconciliation of %s/%s still failing: %v", u.MatchID, u.PlayerID, err)
			continue
		}
		if err := s.reconciler.Resolve(ctx, u); err != nil {
			log.Printf("[SETTLE] Credited %s/%s but could not clear it: %v", u.MatchID, u.PlayerID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

// Pending lists credits awaiting reconciliation.
func (s *LedgerSettler) Pending(ctx context.Context) ([]Unresolved, error) {
	return s.reconciler.Pending(ctx)
}
