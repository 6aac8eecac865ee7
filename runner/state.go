package runner

import (
	"encoding/json"
	"fmt"
	"os"
)

// State is the runner's crash-recovery snapshot. It is rewritten after every
// cycle; a corrupt or missing file simply starts a fresh state, never aborts
// the runner.
type State struct {
	Iteration          int    `json:"iteration"`
	LastIngestMarketAt string `json:"last_success_ingest_market_at,omitempty"`
	LastIngestNewsAt   string `json:"last_success_ingest_news_at,omitempty"`
	LastProposeAt      string `json:"last_success_propose_at,omitempty"`
	LastErrorAt        string `json:"last_error_at,omitempty"`
	LastErrorSummary   string `json:"last_error_summary,omitempty"`
	LastSignature      string `json:"last_signature,omitempty"`
	LastSignatureAt    string `json:"last_signature_at,omitempty"`
}

// LoadState reads the state file, returning a zero state when the file is
// missing or unreadable.
func LoadState(path string) State {
	raw, err := os.ReadFile(path)
	if err != nil {
		return State{}
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}
	}
	return st
}

// Save writes the state file.
func (st State) Save(path string) error {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal runner state: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write runner state: %w", err)
	}
	return nil
}
