package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"bountygo/config"
	"bountygo/core/events"
	nativecommon "bountygo/native/common"
	"bountygo/native/params"
	"bountygo/native/token"
)

type mockState struct {
	tasks      map[[32]byte]*Task
	custody    map[[32]byte]*big.Int
	disputes   map[uint64]*Dispute
	disputeSeq uint64
	bySponsor  map[[20]byte][][32]byte
	byWinner   map[[20]byte][][32]byte
	params     map[string][]byte
}

func newMockState() *mockState {
	return &mockState{
		tasks:     make(map[[32]byte]*Task),
		custody:   make(map[[32]byte]*big.Int),
		disputes:  make(map[uint64]*Dispute),
		bySponsor: make(map[[20]byte][][32]byte),
		byWinner:  make(map[[20]byte][][32]byte),
		params:    make(map[string][]byte),
	}
}

func (m *mockState) TaskPut(t *Task) error {
	sanitized, err := SanitizeTask(t)
	if err != nil {
		return err
	}
	m.tasks[sanitized.ID] = sanitized.Clone()
	return nil
}

func (m *mockState) TaskGet(id [32]byte) (*Task, bool) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

func (m *mockState) TaskCredit(id [32]byte, _ string, amt *big.Int) error {
	current, ok := m.custody[id]
	if !ok {
		current = big.NewInt(0)
	}
	m.custody[id] = new(big.Int).Add(current, amt)
	return nil
}

func (m *mockState) TaskDebit(id [32]byte, _ string, amt *big.Int) error {
	current, ok := m.custody[id]
	if !ok || current.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient custody")
	}
	m.custody[id] = new(big.Int).Sub(current, amt)
	return nil
}

func (m *mockState) TaskIndexBySponsor(addr [20]byte, id [32]byte) error {
	m.bySponsor[addr] = append(m.bySponsor[addr], id)
	return nil
}

func (m *mockState) TaskIndexByWinner(addr [20]byte, id [32]byte) error {
	m.byWinner[addr] = append(m.byWinner[addr], id)
	return nil
}

func (m *mockState) DisputePut(d *Dispute) error {
	if d == nil {
		return fmt.Errorf("nil dispute")
	}
	m.disputes[d.ID] = d.Clone()
	return nil
}

func (m *mockState) DisputeGet(id uint64) (*Dispute, bool) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (m *mockState) DisputeNextID() (uint64, error) {
	m.disputeSeq++
	return m.disputeSeq, nil
}

func (m *mockState) ParamStoreSet(name string, value []byte) error {
	m.params[name] = append([]byte(nil), value...)
	return nil
}

func (m *mockState) ParamStoreGet(name string) ([]byte, bool, error) {
	raw, ok := m.params[name]
	return raw, ok, nil
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestTaskID(fill byte) [32]byte {
	var id [32]byte
	copy(id[:], bytes.Repeat([]byte{fill}, 32))
	return id
}

var (
	ownerAddr    = newTestAddress(0x01)
	treasuryAddr = newTestAddress(0x02)
	vaultAddr    = newTestAddress(0x03)
	sponsorAddr  = newTestAddress(0x04)
	winnerAddr   = newTestAddress(0x05)
	strangerAddr = newTestAddress(0x06)
	resolverAddr = newTestAddress(0x07)
)

type testEnv struct {
	engine *Engine
	state  *mockState
	ledger *token.MemLedger
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	state := newMockState()
	ledger := token.NewMemLedger()
	registry := token.NewRegistry()
	if err := registry.Add("BUSD", 6, ledger); err != nil {
		t.Fatalf("register token: %v", err)
	}
	env := &testEnv{state: state, ledger: ledger, now: 1_000_000}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetRegistry(registry)
	engine.SetParams(params.NewStore(state))
	engine.SetOwner(ownerAddr)
	engine.SetFeeTreasury(treasuryAddr)
	engine.SetVault(vaultAddr)
	engine.SetNowFunc(func() int64 { return env.now })
	if err := engine.AddResolver(ownerAddr, resolverAddr); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	env.engine = engine
	return env
}

func (env *testEnv) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := env.ledger.Mint(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(addr, vaultAddr, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (env *testEnv) deposit(t *testing.T, id [32]byte, amount int64) *Task {
	t.Helper()
	env.fund(t, sponsorAddr, amount)
	task, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(amount), env.now+3600)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return task
}

func balanceOf(env *testEnv, addr [20]byte) int64 {
	return env.ledger.BalanceOf(addr).Int64()
}

func TestDepositCreatesActiveTask(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xA1)
	task := env.deposit(t, id, 500)

	if task.Status != TaskActive {
		t.Fatalf("expected active status, got %s", task.Status)
	}
	if task.Sponsor != sponsorAddr {
		t.Fatalf("unexpected sponsor")
	}
	if got := balanceOf(env, vaultAddr); got != 500 {
		t.Fatalf("vault balance = %d, want 500", got)
	}
	if got := balanceOf(env, sponsorAddr); got != 0 {
		t.Fatalf("sponsor balance = %d, want 0", got)
	}
	if custody := env.state.custody[id]; custody.Int64() != 500 {
		t.Fatalf("custody = %s, want 500", custody)
	}
	if len(env.state.bySponsor[sponsorAddr]) != 1 {
		t.Fatalf("sponsor index not updated")
	}
}

func TestDepositValidation(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xA2)
	env.fund(t, sponsorAddr, 1000)

	if _, err := env.engine.Deposit(id, sponsorAddr, "DOGE", big.NewInt(100), env.now+3600); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("unknown token: got %v", err)
	}
	if _, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(0), env.now+3600); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(100), env.now); !errors.Is(err, ErrDeadlinePast) {
		t.Fatalf("deadline now: got %v", err)
	}
	if _, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(100), env.now+3600); err != nil {
		t.Fatalf("valid deposit: %v", err)
	}
	if _, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(100), env.now+3600); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("reused id: got %v", err)
	}
}

func TestDepositTransferFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xA3)
	// Funded but no allowance for the vault.
	if err := env.ledger.Mint(sponsorAddr, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := env.engine.Deposit(id, sponsorAddr, "BUSD", big.NewInt(500), env.now+3600); err == nil {
		t.Fatalf("expected transfer failure")
	}
	if _, ok := env.state.TaskGet(id); ok {
		t.Fatalf("task should not exist after failed deposit")
	}
	if custody := env.state.custody[id]; custody != nil && custody.Sign() != 0 {
		t.Fatalf("custody should be empty after failed deposit")
	}
}

func TestReleaseSplitsFee(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xB1)
	env.deposit(t, id, 500)

	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}
	// 500 at the default 250 bps: fee 12 (floor), payout 488.
	if got := balanceOf(env, treasuryAddr); got != 12 {
		t.Fatalf("treasury balance = %d, want 12", got)
	}
	if got := balanceOf(env, winnerAddr); got != 488 {
		t.Fatalf("winner balance = %d, want 488", got)
	}
	if got := balanceOf(env, vaultAddr); got != 0 {
		t.Fatalf("vault balance = %d, want 0", got)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if task.Winner != winnerAddr {
		t.Fatalf("winner not recorded")
	}
	if task.CompletionTime != env.now {
		t.Fatalf("completion time not recorded")
	}
	if custody := env.state.custody[id]; custody.Sign() != 0 {
		t.Fatalf("custody = %s, want 0", custody)
	}
	if len(env.state.byWinner[winnerAddr]) != 1 {
		t.Fatalf("winner index not updated")
	}
}

func TestFeeAndPayoutAlwaysSumToAmount(t *testing.T) {
	amounts := []int64{1, 3, 500, 999, 10_000, 123_456_789}
	for bps := uint32(0); bps <= config.MaxFeeBps; bps += 25 {
		for _, amount := range amounts {
			fee, payout := splitFee(big.NewInt(amount), bps)
			sum := new(big.Int).Add(fee, payout)
			if sum.Int64() != amount {
				t.Fatalf("bps=%d amount=%d: fee %s + payout %s != amount", bps, amount, fee, payout)
			}
			if fee.Sign() < 0 || payout.Sign() < 0 {
				t.Fatalf("bps=%d amount=%d: negative component", bps, amount)
			}
		}
	}
}

func TestZeroFeeSkipsTreasury(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetFeeBps(ownerAddr, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	id := newTestTaskID(0xB2)
	env.deposit(t, id, 500)
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := balanceOf(env, treasuryAddr); got != 0 {
		t.Fatalf("treasury balance = %d, want 0", got)
	}
	if got := balanceOf(env, winnerAddr); got != 500 {
		t.Fatalf("winner balance = %d, want 500", got)
	}
}

func TestReleaseAuthorization(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xB3)
	env.deposit(t, id, 500)

	if err := env.engine.Release(id, strangerAddr, winnerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger release: got %v", err)
	}
	if err := env.engine.Release(id, sponsorAddr, [20]byte{}); !errors.Is(err, ErrZeroWinner) {
		t.Fatalf("zero winner: got %v", err)
	}
	if err := env.engine.Release(id, ownerAddr, winnerAddr); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("double release: got %v", err)
	}
}

func TestRefundExpired(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xC1)
	env.deposit(t, id, 500)

	if err := env.engine.RefundExpired(id, strangerAddr); !errors.Is(err, ErrDeadlineNotReached) {
		t.Fatalf("early refund by stranger: got %v", err)
	}
	env.now += 3601
	if err := env.engine.RefundExpired(id, strangerAddr); err != nil {
		t.Fatalf("refund after deadline: %v", err)
	}
	// No fee on refund.
	if got := balanceOf(env, sponsorAddr); got != 500 {
		t.Fatalf("sponsor balance = %d, want 500", got)
	}
	if got := balanceOf(env, treasuryAddr); got != 0 {
		t.Fatalf("treasury balance = %d, want 0", got)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskRefunded {
		t.Fatalf("status = %s, want refunded", task.Status)
	}
}

func TestOwnerMayRefundEarly(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xC2)
	env.deposit(t, id, 500)
	if err := env.engine.RefundExpired(id, ownerAddr); err != nil {
		t.Fatalf("owner early refund: %v", err)
	}
	if got := balanceOf(env, sponsorAddr); got != 500 {
		t.Fatalf("sponsor balance = %d, want 500", got)
	}
}

func TestDisputeBlocksSettlement(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xD1)
	env.deposit(t, id, 500)

	dispute, err := env.engine.CreateDispute(id, sponsorAddr, "deliverable missing")
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if dispute.ID != 1 {
		t.Fatalf("dispute id = %d, want 1", dispute.ID)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskDisputed || !task.HasDispute {
		t.Fatalf("task not marked disputed")
	}
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("release during dispute: got %v", err)
	}
	env.now += 7200
	if err := env.engine.RefundExpired(id, strangerAddr); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("refund during dispute: got %v", err)
	}
	if _, err := env.engine.CreateDispute(id, sponsorAddr, "again"); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("second dispute: got %v", err)
	}
}

func TestDisputeAuthorization(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xD2)
	env.deposit(t, id, 500)

	if _, err := env.engine.CreateDispute(id, strangerAddr, "not my task"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger dispute: got %v", err)
	}
	if _, err := env.engine.CreateDispute(id, winnerAddr, "no winner yet"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-winner dispute: got %v", err)
	}
	if _, err := env.engine.CreateDispute(id, sponsorAddr, "  "); err == nil {
		t.Fatalf("empty reason accepted")
	}
}

func TestDisputeWindowAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xD3)
	env.deposit(t, id, 500)
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}

	env.now += config.DefaultDisputeWindowSeconds - 1
	dispute, err := env.engine.CreateDispute(id, winnerAddr, "payout disputed")
	if err != nil {
		t.Fatalf("dispute within window: %v", err)
	}
	// Completed status is kept; the flag is the settlement block.
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
	if !task.HasDispute {
		t.Fatalf("dispute flag not set")
	}

	// Resolving is administrative only: custody already settled.
	winnerBefore := balanceOf(env, winnerAddr)
	if err := env.engine.ResolveDispute(dispute.ID, resolverAddr, "stands", true, winnerAddr); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := balanceOf(env, winnerAddr); got != winnerBefore {
		t.Fatalf("funds moved on administrative resolution")
	}
	task, _ = env.state.TaskGet(id)
	if task.HasDispute {
		t.Fatalf("dispute flag not cleared")
	}
}

func TestDisputeWindowClosed(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xD4)
	env.deposit(t, id, 500)
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}
	env.now += config.DefaultDisputeWindowSeconds + 1
	if _, err := env.engine.CreateDispute(id, sponsorAddr, "too late"); !errors.Is(err, ErrDisputeWindowClosed) {
		t.Fatalf("dispute after window: got %v", err)
	}
}

func TestRefundedTaskCannotBeDisputed(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xD5)
	env.deposit(t, id, 500)
	env.now += 3601
	if err := env.engine.RefundExpired(id, sponsorAddr); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := env.engine.CreateDispute(id, sponsorAddr, "want it back"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("dispute on refunded task: got %v", err)
	}
}

func TestResolveDisputeRefund(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xE1)
	env.deposit(t, id, 500)
	dispute, err := env.engine.CreateDispute(id, sponsorAddr, "work not delivered")
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}

	if err := env.engine.ResolveDispute(dispute.ID, strangerAddr, "no", false, [20]byte{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-resolver: got %v", err)
	}
	if err := env.engine.ResolveDispute(dispute.ID, resolverAddr, "refund sponsor", false, [20]byte{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := balanceOf(env, sponsorAddr); got != 500 {
		t.Fatalf("sponsor balance = %d, want 500", got)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskRefunded || task.HasDispute {
		t.Fatalf("task not settled: status=%s hasDispute=%v", task.Status, task.HasDispute)
	}
	stored, _ := env.state.DisputeGet(dispute.ID)
	if !stored.Resolved || stored.Resolver != resolverAddr {
		t.Fatalf("dispute record not updated")
	}

	// Resolving again must fail and must not move funds twice.
	if err := env.engine.ResolveDispute(dispute.ID, resolverAddr, "again", false, [20]byte{}); !errors.Is(err, ErrDisputeResolved) {
		t.Fatalf("second resolve: got %v", err)
	}
	if got := balanceOf(env, sponsorAddr); got != 500 {
		t.Fatalf("sponsor balance changed on second resolve: %d", got)
	}
}

func TestResolveDisputeRelease(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xE2)
	env.deposit(t, id, 500)
	dispute, err := env.engine.CreateDispute(id, sponsorAddr, "contested")
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if err := env.engine.ResolveDispute(dispute.ID, resolverAddr, "winner earned it", true, [20]byte{}); !errors.Is(err, ErrZeroWinner) {
		t.Fatalf("zero winner release: got %v", err)
	}
	if err := env.engine.ResolveDispute(dispute.ID, resolverAddr, "winner earned it", true, winnerAddr); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// The standard fee split applies on a resolver-ordered release.
	if got := balanceOf(env, treasuryAddr); got != 12 {
		t.Fatalf("treasury balance = %d, want 12", got)
	}
	if got := balanceOf(env, winnerAddr); got != 488 {
		t.Fatalf("winner balance = %d, want 488", got)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskCompleted {
		t.Fatalf("status = %s, want completed", task.Status)
	}
}

func TestReleaseTransferFailureKeepsTaskActive(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xF1)
	env.deposit(t, id, 500)
	// Drain the vault so the winner transfer must fail.
	if err := env.engine.EmergencyWithdraw(ownerAddr, "BUSD", strangerAddr, big.NewInt(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err == nil {
		t.Fatalf("expected transfer failure")
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskActive {
		t.Fatalf("status = %s, want active after failed release", task.Status)
	}
	if custody := env.state.custody[id]; custody.Int64() != 500 {
		t.Fatalf("custody = %s, want 500 after failed release", custody)
	}
}

func TestFailedReleaseReturnsFeeToVault(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xF3)
	env.deposit(t, id, 500)
	// Leave the vault enough for the fee (12) but not the winner payout
	// (488), so the release fails halfway through the split.
	if err := env.engine.EmergencyWithdraw(ownerAddr, "BUSD", strangerAddr, big.NewInt(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err == nil {
		t.Fatalf("expected transfer failure")
	}
	if got := balanceOf(env, treasuryAddr); got != 0 {
		t.Fatalf("treasury balance = %d, want fee returned after failed release", got)
	}
	if got := balanceOf(env, vaultAddr); got != 100 {
		t.Fatalf("vault balance = %d, want 100", got)
	}
	task, _ := env.state.TaskGet(id)
	if task.Status != TaskActive {
		t.Fatalf("status = %s, want active after failed release", task.Status)
	}

	// Once the vault is whole again the retry settles exactly one fee.
	if err := env.ledger.Mint(vaultAddr, big.NewInt(400)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("retry release: %v", err)
	}
	if got := balanceOf(env, treasuryAddr); got != 12 {
		t.Fatalf("treasury balance = %d, want 12", got)
	}
	if got := balanceOf(env, winnerAddr); got != 488 {
		t.Fatalf("winner balance = %d, want 488", got)
	}
}

func TestPauseBlocksOperations(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetPaused(ownerAddr, "escrow", true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	env.fund(t, sponsorAddr, 100)
	if _, err := env.engine.Deposit(newTestTaskID(0xF2), sponsorAddr, "BUSD", big.NewInt(100), env.now+3600); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("deposit while paused: got %v", err)
	}
	if err := env.engine.SetPaused(ownerAddr, "escrow", false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.engine.Deposit(newTestTaskID(0xF2), sponsorAddr, "BUSD", big.NewInt(100), env.now+3600); err != nil {
		t.Fatalf("deposit after unpause: %v", err)
	}
}

func TestOwnerAdministration(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.SetFeeBps(strangerAddr, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger set fee: got %v", err)
	}
	if err := env.engine.SetFeeBps(ownerAddr, config.MaxFeeBps+1); err == nil {
		t.Fatalf("fee above cap accepted")
	}
	if err := env.engine.SetFeeBps(ownerAddr, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := env.engine.SetDisputeWindow(ownerAddr, 0); err == nil {
		t.Fatalf("zero window accepted")
	}
	if err := env.engine.SetDisputeWindow(ownerAddr, 3600); err != nil {
		t.Fatalf("set window: %v", err)
	}

	if err := env.engine.AddResolver(strangerAddr, strangerAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger add resolver: got %v", err)
	}
	if err := env.engine.RemoveResolver(ownerAddr, resolverAddr); err != nil {
		t.Fatalf("remove resolver: %v", err)
	}
	if env.engine.IsResolver(resolverAddr) {
		t.Fatalf("resolver still registered")
	}
	if err := env.engine.RemoveResolver(ownerAddr, resolverAddr); err == nil {
		t.Fatalf("removing unknown resolver accepted")
	}
}

func TestRemovedTokenStillSettles(t *testing.T) {
	env := newTestEnv(t)
	id := newTestTaskID(0xF3)
	env.deposit(t, id, 500)

	if err := env.engine.RemoveToken(ownerAddr, "BUSD"); err != nil {
		t.Fatalf("remove token: %v", err)
	}
	env.fund(t, sponsorAddr, 100)
	if _, err := env.engine.Deposit(newTestTaskID(0xF4), sponsorAddr, "BUSD", big.NewInt(100), env.now+3600); !errors.Is(err, ErrTokenNotAllowed) {
		t.Fatalf("deposit in removed token: got %v", err)
	}
	// The live task can still be released.
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release in removed token: %v", err)
	}
}

func TestDepositEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	recorder := &events.Recorder{}
	env.engine.SetEmitter(recorder)

	id := newTestTaskID(0xF5)
	env.deposit(t, id, 500)
	if err := env.engine.Release(id, sponsorAddr, winnerAddr); err != nil {
		t.Fatalf("release: %v", err)
	}

	got := recorder.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].EventType() != EventTypeDeposited {
		t.Fatalf("first event = %s, want %s", got[0].EventType(), EventTypeDeposited)
	}
	if got[1].EventType() != EventTypeReleased {
		t.Fatalf("second event = %s, want %s", got[1].EventType(), EventTypeReleased)
	}
}
