package escrow

import (
	"fmt"
	"math/big"
	"strings"
)

// TaskStatus represents the lifecycle states of a bounty reward task.
type TaskStatus uint8

const (
	TaskActive TaskStatus = iota
	TaskCompleted
	TaskRefunded
	TaskDisputed
)

// String returns the canonical lowercase name of the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskActive:
		return "active"
	case TaskCompleted:
		return "completed"
	case TaskRefunded:
		return "refunded"
	case TaskDisputed:
		return "disputed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskActive, TaskCompleted, TaskRefunded, TaskDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskRefunded
}

// CanTransition enumerates the legal edges of the task state machine:
// ACTIVE -> {COMPLETED, REFUNDED, DISPUTED} and DISPUTED -> {COMPLETED,
// REFUNDED}. COMPLETED and REFUNDED are terminal.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskActive:
		return to == TaskCompleted || to == TaskRefunded || to == TaskDisputed
	case TaskDisputed:
		return to == TaskCompleted || to == TaskRefunded
	default:
		return false
	}
}

// Task captures a single bounty reward held in escrow. The identifier is
// supplied by the caller at deposit time and never reused; records are kept
// forever once created.
type Task struct {
	ID             [32]byte
	Sponsor        [20]byte
	Winner         [20]byte
	Token          string
	Amount         *big.Int
	Deadline       int64
	DepositTime    int64
	CompletionTime int64
	Status         TaskStatus
	HasDispute     bool
	DisputeReason  string
}

// Clone returns a deep copy of the task so callers can safely mutate the copy
// without affecting the stored instance.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// SanitizeTask validates and normalises the supplied task, returning a cloned
// instance with canonical token casing and a non-nil amount. The original
// value is not mutated.
func SanitizeTask(t *Task) (*Task, error) {
	if t == nil {
		return nil, fmt.Errorf("nil task")
	}
	clone := t.Clone()
	clone.Token = strings.ToUpper(strings.TrimSpace(clone.Token))
	if clone.Token == "" {
		return nil, fmt.Errorf("task token required")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("task amount must be positive")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid task status: %d", clone.Status)
	}
	return clone, nil
}

// Dispute records a challenge raised against a task. Identifiers increment
// from 1; resolved disputes are retained as a historical record.
type Dispute struct {
	ID         uint64
	TaskID     [32]byte
	Initiator  [20]byte
	Reason     string
	CreatedAt  int64
	Resolved   bool
	Resolver   [20]byte
	Resolution string
	ResolvedAt int64
}

// Clone returns a copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}
