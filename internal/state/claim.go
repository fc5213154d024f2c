package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	nouserr "github.com/aeo-labs/nous/internal/errors"
)

// ClaimToken correlates a project's pending state with the one session
// allowed to flush/extract/advance it. The token value is derived from the
// session's transcript identity, so a Stop event can only consume state its
// own session produced (or state nobody owns).
type ClaimToken struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
	ClaimedAt string `json:"claimed_at"`
}

// NewClaimToken derives the claim token for a session's transcript identity.
func NewClaimToken(sessionID, transcriptPath string) ClaimToken {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + transcriptPath))
	return ClaimToken{
		Token:     hex.EncodeToString(sum[:8]),
		SessionID: sessionID,
		PID:       os.Getpid(),
		ClaimedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// Claim takes the project claim for token. It succeeds when the state is
// unclaimed, already held by the same token (re-entrant), or held by a claim
// older than staleAfter (abandoned session, eventual recovery). A live claim
// by another session returns a CLAIM_CONFLICT error; callers treat that as
// deferral, not failure.
func (s *Store) Claim(token ClaimToken, staleAfter time.Duration) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := createFileExclusive(s.ClaimPath(), data)
		if err == nil {
			s.logf(token.SessionID, "claim_acquired token=%s", token.Token)
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}

		holder, ok := s.ClaimHolder()
		if ok && holder.Token == token.Token {
			return nil
		}
		if ok && !claimStale(holder, staleAfter) {
			return nouserr.NewClaimConflict(s.project, holder.SessionID)
		}

		// Unreadable or stale claim: remove and retry the exclusive create
		// once. Losing the retry race to another session is a conflict.
		if ok {
			s.logf(token.SessionID, "claim_takeover stale_token=%s", holder.Token)
		} else {
			s.logf(token.SessionID, "claim_takeover corrupt_claim_file")
		}
		if err := os.Remove(s.ClaimPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nouserr.NewClaimConflict(s.project, "unknown")
}

// ClaimHolder reads the current claim, reporting ok=false when the state is
// unclaimed or the claim file is unreadable.
func (s *Store) ClaimHolder() (ClaimToken, bool) {
	data, err := os.ReadFile(s.ClaimPath())
	if err != nil {
		return ClaimToken{}, false
	}
	var token ClaimToken
	if err := json.Unmarshal(data, &token); err != nil {
		return ClaimToken{}, false
	}
	if token.Token == "" {
		return ClaimToken{}, false
	}
	return token, true
}

// ClaimedByOther reports whether the project claim is held live by a
// different token. Stale claims do not count: they will be taken over on the
// next Claim. This is the non-blocking check used on the Stop hot path.
func (s *Store) ClaimedByOther(token ClaimToken, staleAfter time.Duration) bool {
	holder, ok := s.ClaimHolder()
	if !ok {
		return false
	}
	if holder.Token == token.Token {
		return false
	}
	return !claimStale(holder, staleAfter)
}

// Release drops the claim if it is still held by token. Releasing someone
// else's claim is refused.
func (s *Store) Release(token ClaimToken) error {
	holder, ok := s.ClaimHolder()
	if !ok {
		return nil
	}
	if holder.Token != token.Token {
		return fmt.Errorf("claim held by session %s, not releasing", holder.SessionID)
	}
	if err := os.Remove(s.ClaimPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	s.logf(token.SessionID, "claim_released token=%s", token.Token)
	return nil
}

// claimStale reports whether a claim is old enough to be treated as
// abandoned. Unparseable claim timestamps count as stale.
func claimStale(token ClaimToken, staleAfter time.Duration) bool {
	t, err := time.Parse("2006-01-02T15:04:05.000Z", token.ClaimedAt)
	if err != nil {
		return true
	}
	return time.Since(t) > staleAfter
}
