package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"bountygo/config"
)

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for owner-controlled parameters.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetFeeBps persists the platform fee. Values above the construction cap are
// rejected here so no caller can bypass it.
func (s *Store) SetFeeBps(feeBps uint32) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if feeBps > config.MaxFeeBps {
		return fmt.Errorf("params: fee %d bps exceeds cap %d", feeBps, config.MaxFeeBps)
	}
	encoded, err := json.Marshal(feeBps)
	if err != nil {
		return fmt.Errorf("params: encode fee: %w", err)
	}
	return state.ParamStoreSet(ParamsKeyFeeBps, encoded)
}

// FeeBps loads the persisted platform fee, falling back to the default when
// unset.
func (s *Store) FeeBps() (uint32, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeyFeeBps)
	if err != nil {
		return 0, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return config.DefaultFeeBps, nil
	}
	var feeBps uint32
	if err := json.Unmarshal(raw, &feeBps); err != nil {
		return 0, fmt.Errorf("params: decode fee: %w", err)
	}
	return feeBps, nil
}

// SetDisputeWindow persists the post-completion dispute window in seconds.
func (s *Store) SetDisputeWindow(seconds int64) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if seconds <= 0 {
		return fmt.Errorf("params: dispute window must be positive")
	}
	encoded, err := json.Marshal(seconds)
	if err != nil {
		return fmt.Errorf("params: encode dispute window: %w", err)
	}
	return state.ParamStoreSet(ParamsKeyDisputeWindow, encoded)
}

// DisputeWindow loads the persisted dispute window, falling back to the
// default when unset.
func (s *Store) DisputeWindow() (int64, error) {
	state, err := s.withState()
	if err != nil {
		return 0, err
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeyDisputeWindow)
	if err != nil {
		return 0, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return config.DefaultDisputeWindowSeconds, nil
	}
	var seconds int64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return 0, fmt.Errorf("params: decode dispute window: %w", err)
	}
	return seconds, nil
}

// SetPauses persists the supplied pause configuration under the canonical
// parameter store key.
func (s *Store) SetPauses(pauses config.Pauses) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(pauses)
	if err != nil {
		return fmt.Errorf("params: encode pauses: %w", err)
	}
	return state.ParamStoreSet(ParamsKeyPauses, encoded)
}

// Pauses loads the persisted pause configuration. When unset, a zero-value
// configuration is returned.
func (s *Store) Pauses() (config.Pauses, error) {
	state, err := s.withState()
	if err != nil {
		return config.Pauses{}, err
	}
	raw, ok, err := state.ParamStoreGet(ParamsKeyPauses)
	if err != nil {
		return config.Pauses{}, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return config.Pauses{}, nil
	}
	var pauses config.Pauses
	if err := json.Unmarshal(raw, &pauses); err != nil {
		return config.Pauses{}, fmt.Errorf("params: decode pauses: %w", err)
	}
	return pauses, nil
}

// IsPaused implements the pause view consumed by the module guards. Lookup
// failures fail closed: a broken parameter store pauses everything.
func (s *Store) IsPaused(module string) bool {
	pauses, err := s.Pauses()
	if err != nil {
		return true
	}
	return pauses.IsPaused(module)
}
