package state

import (
	"encoding/json"
	"errors"
	"os"
)

// blockGuard records the most recent flush_and_block decision so the policy
// engine can refuse to re-issue an identical block for the same session and
// claim token when the host produced no summary in between. Without this the
// Stop hook could block a non-complying session forever.
type blockGuard struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	BlockedAt string `json:"blocked_at"`
}

// BlockedBefore reports whether a flush_and_block was already issued for
// this (session, token) pair.
func (s *Store) BlockedBefore(sessionID, token string) bool {
	data, err := os.ReadFile(s.GuardPath())
	if err != nil {
		return false
	}
	var g blockGuard
	if err := json.Unmarshal(data, &g); err != nil {
		return false
	}
	return g.SessionID == sessionID && g.Token == token
}

// RecordBlock marks that a flush_and_block was issued for this pair.
func (s *Store) RecordBlock(sessionID, token, ts string) error {
	data, err := json.Marshal(blockGuard{SessionID: sessionID, Token: token, BlockedAt: ts})
	if err != nil {
		return err
	}
	return writeFileAtomic(s.GuardPath(), data)
}

// ClearBlock resets the guard; called when a new summary block is observed,
// re-arming the backstop.
func (s *Store) ClearBlock() error {
	if err := os.Remove(s.GuardPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
