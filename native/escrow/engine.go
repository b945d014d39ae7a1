package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"bountygo/core/events"
	"bountygo/core/types"
	"bountygo/native/common"
	"bountygo/native/params"
	"bountygo/native/token"
)

// ModuleName identifies the escrow module for the pause guard.
const ModuleName = "escrow"

var (
	errNilState    = errors.New("escrow engine: state not configured")
	errNilRegistry = errors.New("escrow engine: token registry not configured")
	errNilParams   = errors.New("escrow engine: params store not configured")
	errNilTreasury = errors.New("escrow engine: fee treasury not configured")

	// ErrTaskNotFound is returned when the task id is unknown.
	ErrTaskNotFound = errors.New("escrow engine: task not found")
	// ErrTaskExists is returned when a deposit reuses an existing task id.
	ErrTaskExists = errors.New("escrow engine: task id already used")
	// ErrTokenNotAllowed is returned when the payment token is not on the
	// registry allow-list.
	ErrTokenNotAllowed = errors.New("escrow engine: token not registered")
	// ErrInvalidAmount is returned for nil, zero, or negative amounts.
	ErrInvalidAmount = errors.New("escrow engine: amount must be positive")
	// ErrDeadlinePast is returned when the deposit deadline is not strictly in
	// the future.
	ErrDeadlinePast = errors.New("escrow engine: deadline must be in the future")
	// ErrDeadlineNotReached is returned when a non-owner refund arrives before
	// the deadline.
	ErrDeadlineNotReached = errors.New("escrow engine: deadline not reached")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("escrow engine: unauthorized caller")
	// ErrZeroWinner is returned when a release names the zero address.
	ErrZeroWinner = errors.New("escrow engine: winner required")
	// ErrInvalidStatus is returned when the operation is illegal for the
	// task's current status.
	ErrInvalidStatus = errors.New("escrow engine: invalid task status")
	// ErrDisputeOpen is returned when a task already has an unresolved
	// dispute.
	ErrDisputeOpen = errors.New("escrow engine: dispute already open")
	// ErrDisputeNotFound is returned when the dispute id is unknown.
	ErrDisputeNotFound = errors.New("escrow engine: dispute not found")
	// ErrDisputeResolved is returned when resolving an already resolved
	// dispute.
	ErrDisputeResolved = errors.New("escrow engine: dispute already resolved")
	// ErrDisputeWindowClosed is returned when a completed task is disputed
	// after the window elapsed.
	ErrDisputeWindowClosed = errors.New("escrow engine: dispute window closed")
)

// engineState is the narrow view of the state manager consumed by the engine.
type engineState interface {
	TaskPut(*Task) error
	TaskGet(id [32]byte) (*Task, bool)
	TaskCredit(id [32]byte, token string, amt *big.Int) error
	TaskDebit(id [32]byte, token string, amt *big.Int) error
	TaskIndexBySponsor(addr [20]byte, id [32]byte) error
	TaskIndexByWinner(addr [20]byte, id [32]byte) error
	DisputePut(*Dispute) error
	DisputeGet(id uint64) (*Dispute, bool)
	DisputeNextID() (uint64, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow task ledger and dispute registry with external
// state, the token registry, and event emitters. Every public operation runs
// under a single mutex so invocations execute one at a time, mirroring the
// serialized execution of the original contract environment.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	registry  *token.Registry
	params    *params.Store
	emitter   events.Emitter
	nowFn     func() int64
	owner     [20]byte
	treasury  [20]byte
	vault     [20]byte
	resolvers map[[20]byte]bool
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		resolvers: make(map[[20]byte]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the payment token allow-list.
func (e *Engine) SetRegistry(registry *token.Registry) { e.registry = registry }

// SetParams configures the parameter store backing fee and window lookups.
func (e *Engine) SetParams(store *params.Store) { e.params = store }

// SetOwner configures the privileged administrative account.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// SetFeeTreasury configures the address that should receive platform fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.treasury = addr }

// SetVault configures the custody address holding deposited rewards.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if e.params == nil {
		return errNilParams
	}
	return common.Guard(e.params, ModuleName)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.owner || caller == ([20]byte{}) {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) ledgerFor(symbol string) (token.Info, error) {
	info, ok := e.registry.Get(symbol)
	if !ok || info.Ledger == nil {
		return token.Info{}, ErrTokenNotAllowed
	}
	return info, nil
}

func (e *Engine) loadTask(id [32]byte) (*Task, error) {
	task, ok := e.state.TaskGet(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// splitFee computes the platform fee with integer floor division. The fee and
// payout always sum to the original amount exactly.
func splitFee(amount *big.Int, feeBps uint32) (fee, payout *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	fee.Div(fee, big.NewInt(10_000))
	payout = new(big.Int).Sub(amount, fee)
	return fee, payout
}

// Deposit pulls the reward amount from the sponsor into vault custody and
// records a new ACTIVE task under the supplied identifier.
func (e *Engine) Deposit(id [32]byte, sponsor [20]byte, symbol string, amount *big.Int, deadline int64) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !e.registry.IsRegistered(normalized) {
		return nil, ErrTokenNotAllowed
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrDeadlinePast
	}
	if _, ok := e.state.TaskGet(id); ok {
		return nil, ErrTaskExists
	}
	info, err := e.ledgerFor(normalized)
	if err != nil {
		return nil, err
	}
	if err := info.Ledger.TransferFrom(e.vault, sponsor, e.vault, amt); err != nil {
		return nil, fmt.Errorf("escrow engine: deposit transfer: %w", err)
	}
	task := &Task{
		ID:          id,
		Sponsor:     sponsor,
		Token:       normalized,
		Amount:      amt,
		Deadline:    deadline,
		DepositTime: now,
		Status:      TaskActive,
	}
	if err := e.state.TaskPut(task); err != nil {
		return nil, err
	}
	if err := e.state.TaskCredit(id, normalized, amt); err != nil {
		return nil, err
	}
	if err := e.state.TaskIndexBySponsor(sponsor, id); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(task, sponsor))
	return task.Clone(), nil
}

// Release settles an ACTIVE task in favour of the winner, splitting the
// platform fee to the treasury. Only the task sponsor or the owner may call.
func (e *Engine) Release(id [32]byte, caller, winner [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	task, err := e.loadTask(id)
	if err != nil {
		return err
	}
	if caller != task.Sponsor && caller != e.owner {
		return ErrUnauthorized
	}
	if task.HasDispute {
		return ErrDisputeOpen
	}
	if task.Status != TaskActive {
		return fmt.Errorf("%w: cannot release in status %s", ErrInvalidStatus, task.Status)
	}
	if winner == ([20]byte{}) {
		return ErrZeroWinner
	}
	if err := e.payout(task, winner, caller); err != nil {
		return err
	}
	return nil
}

// payout runs the fee split and transfers for a release path, transitioning
// the task to COMPLETED. Caller holds the engine lock.
func (e *Engine) payout(task *Task, winner, actor [20]byte) error {
	if e.treasury == ([20]byte{}) {
		return errNilTreasury
	}
	if !CanTransition(task.Status, TaskCompleted) {
		return fmt.Errorf("%w: %s -> completed", ErrInvalidStatus, task.Status)
	}
	feeBps, err := e.params.FeeBps()
	if err != nil {
		return err
	}
	info, err := e.ledgerFor(task.Token)
	if err != nil {
		return err
	}
	total := cloneBigInt(task.Amount)
	fee, payout := splitFee(total, feeBps)
	if fee.Sign() > 0 {
		if err := info.Ledger.Transfer(e.vault, e.treasury, fee); err != nil {
			return fmt.Errorf("escrow engine: fee transfer: %w", err)
		}
	}
	if payout.Sign() > 0 {
		if err := info.Ledger.Transfer(e.vault, winner, payout); err != nil {
			// Return the fee so a retried release does not charge it twice.
			if fee.Sign() > 0 {
				if undoErr := info.Ledger.Transfer(e.treasury, e.vault, fee); undoErr != nil {
					return fmt.Errorf("escrow engine: winner transfer: %v (fee reversal: %w)", err, undoErr)
				}
			}
			return fmt.Errorf("escrow engine: winner transfer: %w", err)
		}
	}
	if err := e.state.TaskDebit(task.ID, task.Token, total); err != nil {
		return err
	}
	task.Status = TaskCompleted
	task.Winner = winner
	task.CompletionTime = e.now()
	if err := e.state.TaskPut(task); err != nil {
		return err
	}
	if err := e.state.TaskIndexByWinner(winner, task.ID); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(task, actor, fee, payout))
	return nil
}

// RefundExpired returns the full amount to the sponsor once the deadline has
// elapsed. Anyone may invoke the transition after expiry; the owner may force
// it at any time. No fee is charged on refund.
func (e *Engine) RefundExpired(id [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	task, err := e.loadTask(id)
	if err != nil {
		return err
	}
	if task.HasDispute {
		return ErrDisputeOpen
	}
	if task.Status != TaskActive {
		return fmt.Errorf("%w: cannot refund in status %s", ErrInvalidStatus, task.Status)
	}
	if caller != e.owner && e.now() <= task.Deadline {
		return ErrDeadlineNotReached
	}
	return e.refund(task, caller)
}

// refund returns custody to the sponsor and transitions the task to REFUNDED.
// Caller holds the engine lock.
func (e *Engine) refund(task *Task, actor [20]byte) error {
	if !CanTransition(task.Status, TaskRefunded) {
		return fmt.Errorf("%w: %s -> refunded", ErrInvalidStatus, task.Status)
	}
	info, err := e.ledgerFor(task.Token)
	if err != nil {
		return err
	}
	amount := cloneBigInt(task.Amount)
	if err := info.Ledger.Transfer(e.vault, task.Sponsor, amount); err != nil {
		return fmt.Errorf("escrow engine: refund transfer: %w", err)
	}
	if err := e.state.TaskDebit(task.ID, task.Token, amount); err != nil {
		return err
	}
	task.Status = TaskRefunded
	if err := e.state.TaskPut(task); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(task, actor))
	return nil
}

// CreateDispute opens a dispute against a task. Only the sponsor or the
// recorded winner may dispute. ACTIVE tasks are forced to DISPUTED; COMPLETED
// tasks keep their status but are blocked from further fund movement through
// the HasDispute flag, and become immutable once the dispute window after
// completion has elapsed.
func (e *Engine) CreateDispute(id [32]byte, caller [20]byte, reason string) (*Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	task, err := e.loadTask(id)
	if err != nil {
		return nil, err
	}
	if caller != task.Sponsor && (task.Winner == ([20]byte{}) || caller != task.Winner) {
		return nil, ErrUnauthorized
	}
	if task.HasDispute {
		return nil, ErrDisputeOpen
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil, fmt.Errorf("escrow engine: dispute reason required")
	}
	now := e.now()
	switch task.Status {
	case TaskActive:
	case TaskCompleted:
		window, werr := e.params.DisputeWindow()
		if werr != nil {
			return nil, werr
		}
		if now > task.CompletionTime+window {
			return nil, ErrDisputeWindowClosed
		}
	default:
		return nil, fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidStatus, task.Status)
	}
	disputeID, err := e.state.DisputeNextID()
	if err != nil {
		return nil, err
	}
	dispute := &Dispute{
		ID:        disputeID,
		TaskID:    id,
		Initiator: caller,
		Reason:    trimmed,
		CreatedAt: now,
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return nil, err
	}
	task.HasDispute = true
	task.DisputeReason = trimmed
	if task.Status == TaskActive {
		task.Status = TaskDisputed
	}
	if err := e.state.TaskPut(task); err != nil {
		return nil, err
	}
	e.emit(NewDisputeCreatedEvent(dispute, task))
	return dispute.Clone(), nil
}

// ResolveDispute settles an open dispute. Only a registered resolver may
// call; a second resolution of the same dispute always fails and never
// re-executes the payout. Funds move only while the task still holds custody
// (status DISPUTED): release runs the standard fee split, refund returns the
// full amount to the sponsor regardless of elapsed time. Disputes over
// already-settled tasks resolve administratively with no transfer.
func (e *Engine) ResolveDispute(disputeID uint64, caller [20]byte, resolution string, releaseToWinner bool, winner [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.resolvers[caller] {
		return ErrUnauthorized
	}
	dispute, ok := e.state.DisputeGet(disputeID)
	if !ok {
		return ErrDisputeNotFound
	}
	if dispute.Resolved {
		return ErrDisputeResolved
	}
	task, err := e.loadTask(dispute.TaskID)
	if err != nil {
		return err
	}
	if !task.HasDispute {
		return fmt.Errorf("escrow engine: task %x has no open dispute", dispute.TaskID[:4])
	}
	if releaseToWinner && winner == ([20]byte{}) {
		return ErrZeroWinner
	}
	task.HasDispute = false
	if task.Status == TaskDisputed {
		if releaseToWinner {
			if err := e.payout(task, winner, caller); err != nil {
				return err
			}
		} else {
			if err := e.refund(task, caller); err != nil {
				return err
			}
		}
	} else {
		// Custody already settled; record the adjudication only.
		if err := e.state.TaskPut(task); err != nil {
			return err
		}
	}
	dispute.Resolved = true
	dispute.Resolver = caller
	dispute.Resolution = strings.TrimSpace(resolution)
	dispute.ResolvedAt = e.now()
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(dispute, task, releaseToWinner))
	return nil
}

// Task returns a copy of the stored task record.
func (e *Engine) Task(id [32]byte) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadTask(id)
}

// Dispute returns a copy of the stored dispute record.
func (e *Engine) Dispute(id uint64) (*Dispute, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	dispute, ok := e.state.DisputeGet(id)
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return dispute, nil
}

// AddResolver registers an account authorized to adjudicate disputes.
func (e *Engine) AddResolver(caller, resolver [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if resolver == ([20]byte{}) {
		return fmt.Errorf("escrow engine: resolver required")
	}
	e.resolvers[resolver] = true
	e.emit(NewResolverEvent(EventTypeResolverAdded, caller, resolver))
	return nil
}

// RemoveResolver revokes a dispute resolver.
func (e *Engine) RemoveResolver(caller, resolver [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !e.resolvers[resolver] {
		return fmt.Errorf("escrow engine: resolver not registered")
	}
	delete(e.resolvers, resolver)
	e.emit(NewResolverEvent(EventTypeResolverRemoved, caller, resolver))
	return nil
}

// IsResolver reports whether the account may adjudicate disputes.
func (e *Engine) IsResolver(addr [20]byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolvers[addr]
}

// SetFeeBps updates the platform fee. The parameter store enforces the 10%
// cap.
func (e *Engine) SetFeeBps(caller [20]byte, feeBps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.params == nil {
		return errNilParams
	}
	if err := e.params.SetFeeBps(feeBps); err != nil {
		return err
	}
	e.emit(NewParamEvent(EventTypeFeeUpdated, caller, uint64(feeBps)))
	return nil
}

// SetDisputeWindow updates the post-completion dispute window in seconds.
func (e *Engine) SetDisputeWindow(caller [20]byte, seconds int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.params == nil {
		return errNilParams
	}
	if err := e.params.SetDisputeWindow(seconds); err != nil {
		return err
	}
	e.emit(NewParamEvent(EventTypeWindowUpdated, caller, uint64(seconds)))
	return nil
}

// AddToken allow-lists a payment token.
func (e *Engine) AddToken(caller [20]byte, symbol string, decimals uint8, ledger token.Ledger) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	normalized, err := token.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := e.registry.Add(normalized, decimals, ledger); err != nil {
		return err
	}
	e.emit(NewTokenEvent(EventTypeTokenAdded, caller, normalized))
	return nil
}

// RemoveToken takes a payment token off the allow-list. Live tasks in the
// token can still settle.
func (e *Engine) RemoveToken(caller [20]byte, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	normalized, err := token.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	if err := e.registry.Remove(normalized); err != nil {
		return err
	}
	e.emit(NewTokenEvent(EventTypeTokenRemoved, caller, normalized))
	return nil
}

// SetPaused toggles the pause switch for a module.
func (e *Engine) SetPaused(caller [20]byte, module string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.params == nil {
		return errNilParams
	}
	pauses, err := e.params.Pauses()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "escrow":
		pauses.Escrow = paused
	case "promo":
		pauses.Promo = paused
	default:
		return fmt.Errorf("escrow engine: unknown module %q", module)
	}
	return e.params.SetPauses(pauses)
}

// EmergencyWithdraw moves an arbitrary vault balance to the supplied account.
// Owner only; intended for recovery of stuck funds.
func (e *Engine) EmergencyWithdraw(caller [20]byte, symbol string, to [20]byte, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	info, err := e.ledgerFor(symbol)
	if err != nil {
		return err
	}
	if err := info.Ledger.Transfer(e.vault, to, amt); err != nil {
		return fmt.Errorf("escrow engine: emergency transfer: %w", err)
	}
	e.emit(NewEmergencyWithdrawalEvent(caller, info.Symbol, to, amt))
	return nil
}
