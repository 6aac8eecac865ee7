// Package approval binds a human sign-off to the exact content of an order
// intent. The approval stores the intent hash as seen at approval time; the
// executor refuses to run an intent whose recomputed hash differs.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeagent/intent"
	"github.com/rustyeddy/tradeagent/store"
)

var (
	// ErrPhraseMismatch reports a wrong approval phrase.
	ErrPhraseMismatch = errors.New("approval phrase does not match")
	// ErrIntentExpired reports an approval attempt on an expired intent.
	ErrIntentExpired = errors.New("intent has expired")
	// ErrNotProposed reports an approval attempt on an intent that already
	// moved past the proposed state.
	ErrNotProposed = errors.New("intent is not in proposed state")
	// ErrHashMismatch reports an intent whose stored hash no longer matches
	// its recomputed canonical hash.
	ErrHashMismatch = errors.New("intent hash mismatch")
)

// Service performs and verifies approvals against the store.
type Service struct {
	store          *store.Store
	approvalPhrase string
}

// New returns an approval service checking phrases against approvalPhrase.
func New(st *store.Store, approvalPhrase string) *Service {
	return &Service{store: st, approvalPhrase: approvalPhrase}
}

// Approve checks the phrase, verifies intent integrity and freshness, then
// records the approval and moves the intent to approved. Only the SHA-256 of
// the phrase is ever persisted.
func (s *Service) Approve(intentID, phrase, approvedBy string, now time.Time) error {
	if phrase != s.approvalPhrase {
		return ErrPhraseMismatch
	}

	rec, err := s.store.Intent(intentID)
	if err != nil {
		return fmt.Errorf("load intent: %w", err)
	}
	if rec.Status != intent.StatusProposed {
		return fmt.Errorf("%w: status=%s", ErrNotProposed, rec.Status)
	}
	if rec.Intent.Hash() != rec.IntentHash {
		return ErrHashMismatch
	}
	if rec.Intent.Expired(now) {
		if err := s.store.UpdateIntentStatus(intentID, intent.StatusExpired); err != nil {
			return fmt.Errorf("expire intent: %w", err)
		}
		return ErrIntentExpired
	}

	phraseHash := intent.SHA256Hex(phrase)
	if err := s.store.SaveApproval(intentID, rec.IntentHash, approvedBy, phraseHash); err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	if err := s.store.UpdateIntentStatus(intentID, intent.StatusApproved); err != nil {
		return fmt.Errorf("mark approved: %w", err)
	}

	_ = s.store.LogEvent("intent_approved", map[string]any{
		"intent_id":   intentID,
		"intent_hash": rec.IntentHash,
		"approved_by": approvedBy,
	})
	return nil
}

// Verify reports whether a valid approval exists for the intent and still
// matches the intent's current canonical hash.
func (s *Service) Verify(rec store.IntentRecord) (bool, error) {
	storedHash, _, ok, err := s.store.Approval(rec.Intent.IntentID)
	if err != nil {
		return false, fmt.Errorf("load approval: %w", err)
	}
	if !ok {
		return false, nil
	}
	if storedHash != rec.Intent.Hash() {
		return false, ErrHashMismatch
	}
	return true, nil
}
