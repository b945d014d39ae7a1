package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the sender's
	// balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrInsufficientAllowance is returned when a delegated transfer exceeds
	// the approved allowance.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("token: invalid amount")
)

// Ledger is the fungible-token capability consumed by the engines. The engines
// never implement it; concrete ledgers (stable-value and platform token) are
// injected per deployment. Every method either fully applies or fully rejects
// the movement.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
	Approve(owner, spender [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) *big.Int
	Allowance(owner, spender [20]byte) *big.Int
}

// MemLedger is an in-memory reference ledger with balances and allowances,
// used by the simulation daemon and tests.
type MemLedger struct {
	mu         sync.Mutex
	balances   map[[20]byte]*big.Int
	allowances map[[20]byte]map[[20]byte]*big.Int
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[20]byte]map[[20]byte]*big.Int),
	}
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Mint credits the supplied account. Issuance mechanics are out of scope for
// the engines; this exists so deployments and tests can seed balances.
func (l *MemLedger) Mint(addr [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
	return nil
}

func (l *MemLedger) credit(addr [20]byte, amount *big.Int) {
	current, ok := l.balances[addr]
	if !ok {
		current = big.NewInt(0)
	}
	l.balances[addr] = new(big.Int).Add(current, amount)
}

func (l *MemLedger) debit(addr [20]byte, amount *big.Int) error {
	current, ok := l.balances[addr]
	if !ok || current.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[addr] = new(big.Int).Sub(current, amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *MemLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() == 0 {
		return nil
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.credit(to, amount)
	return nil
}

// TransferFrom moves amount out of the owner's account on behalf of spender,
// consuming the spender's allowance.
func (l *MemLedger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount.Sign() == 0 {
		return nil
	}
	allowed := l.allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.allowances[from][spender] = new(big.Int).Sub(allowed, amount)
	l.credit(to, amount)
	return nil
}

// Approve sets the spender's allowance over the owner's funds. The value is
// replaced, not accumulated.
func (l *MemLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.allowances[owner]; !ok {
		l.allowances[owner] = make(map[[20]byte]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

// BalanceOf reports the current balance for the account.
func (l *MemLedger) BalanceOf(addr [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	current, ok := l.balances[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(current)
}

// Allowance reports the remaining allowance granted by owner to spender.
func (l *MemLedger) Allowance(owner, spender [20]byte) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(owner, spender)
}

func (l *MemLedger) allowance(owner, spender [20]byte) *big.Int {
	grants, ok := l.allowances[owner]
	if !ok {
		return big.NewInt(0)
	}
	allowed, ok := grants[spender]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(allowed)
}
