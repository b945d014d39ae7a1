package promo

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

// ModuleName identifies the promotion module for the pause guard.
const ModuleName = "promo"

var (
	errNilState    = errors.New("promo engine: state not configured")
	errNilRegistry = errors.New("promo engine: token registry not configured")
	errNilTreasury = errors.New("promo engine: treasury not configured")

	// ErrOrderNotFound is returned when the order id is unknown.
	ErrOrderNotFound = errors.New("promo engine: order not found")
	// ErrTokenNotAllowed is returned when the payment token is not on the
	// registry allow-list.
	ErrTokenNotAllowed = errors.New("promo engine: token not registered")
	// ErrInvalidDuration is returned for zero durations.
	ErrInvalidDuration = errors.New("promo engine: duration must be positive")
	// ErrInvalidAmount is returned for nil, zero, or negative amounts.
	ErrInvalidAmount = errors.New("promo engine: amount must be positive")
	// ErrServiceInactive is returned when the service has no active price row.
	ErrServiceInactive = errors.New("promo engine: service not active")
	// ErrInsufficientPayment is returned when the paid amount is below the
	// quoted price. Overpayment is accepted and not refunded.
	ErrInsufficientPayment = errors.New("promo engine: payment below quoted price")
	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("promo engine: unauthorized caller")
	// ErrInvalidStatus is returned when the operation is illegal for the
	// order's current status.
	ErrInvalidStatus = errors.New("promo engine: invalid order status")
)

// engineState is the narrow view of the state manager consumed by the engine.
type engineState interface {
	OrderPut(*Order) error
	OrderGet(id uint64) (*Order, bool)
	OrderNextID() (uint64, error)
	OrderIndexByCustomer(addr [20]byte, id uint64) error
	OrderIndexByService(service ServiceType, id uint64) error
	PricePut(service ServiceType, price *Price) error
	PriceGet(service ServiceType) (*Price, bool)
}

type promoEvent struct {
	evt *types.Event
}

func (e promoEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e promoEvent) Event() *types.Event { return e.evt }

// Engine implements the promotion order book: customers pay the quoted price
// straight to the treasury and the owner drives the order lifecycle. A single
// mutex serializes every public operation.
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
	baseToken string
}

// NewEngine creates a promotion engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the payment token allow-list.
func (e *Engine) SetRegistry(registry *token.Registry) { e.registry = registry }

// SetParams configures the parameter store backing the pause guard.
func (e *Engine) SetParams(store *params.Store) { e.params = store }

// SetOwner configures the privileged administrative account.
func (e *Engine) SetOwner(addr [20]byte) { e.owner = addr }

// SetTreasury configures the account receiving promotion payments.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetVault configures the contract identity used as the approved spender for
// payment pulls and cancellation refunds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetBaseToken configures the stable-value token the price catalog is
// denominated in.
func (e *Engine) SetBaseToken(symbol string) {
	e.baseToken = strings.ToUpper(strings.TrimSpace(symbol))
}

// SetNowFunc overrides the time source used by the engine.
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
	e.emitter.Emit(promoEvent{evt: event})
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
	return common.Guard(e.params, ModuleName)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.owner || caller == ([20]byte{}) {
		return ErrUnauthorized
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// scaleAmount rescales a base-token amount to the payment token's smallest
// unit using the registered decimals of both tokens. The default deployment
// pairs a 6-decimal stable token with an 18-decimal platform token, a 10^12
// scale-up; the ratio is derived from the registry rather than hard-coded.
func scaleAmount(amount *big.Int, baseDecimals, payDecimals uint8) *big.Int {
	if baseDecimals == payDecimals {
		return new(big.Int).Set(amount)
	}
	if payDecimals > baseDecimals {
		factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(payDecimals-baseDecimals)), nil)
		return new(big.Int).Mul(amount, factor)
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(baseDecimals-payDecimals)), nil)
	return new(big.Int).Div(amount, factor)
}

// Quote computes the expected payment for a service in the given token.
func (e *Engine) Quote(service ServiceType, duration uint64, symbol string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quote(service, duration, symbol)
}

func (e *Engine) quote(service ServiceType, duration uint64, symbol string) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	price, ok := e.state.PriceGet(service)
	if !ok || !price.Active {
		return nil, ErrServiceInactive
	}
	unit := price.PerDay
	if service == ServicePrecisionPush {
		unit = price.PerUser
	}
	expected := new(big.Int).Mul(cloneBigInt(unit), new(big.Int).SetUint64(duration))
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == e.baseToken {
		return expected, nil
	}
	base, ok := e.registry.Get(e.baseToken)
	if !ok {
		return nil, fmt.Errorf("promo engine: base token %s not configured", e.baseToken)
	}
	pay, ok := e.registry.Get(normalized)
	if !ok {
		return nil, ErrTokenNotAllowed
	}
	return scaleAmount(expected, base.Decimals, pay.Decimals), nil
}

// Pay charges a promotion purchase. The full paid amount moves straight to
// the treasury; any overpayment above the quote is kept. A PENDING order is
// recorded.
func (e *Engine) Pay(customer [20]byte, service ServiceType, duration uint64, symbol string, amount *big.Int, metadata string) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.treasury == ([20]byte{}) {
		return nil, errNilTreasury
	}
	if !service.Valid() {
		return nil, fmt.Errorf("promo engine: invalid service %d", service)
	}
	if duration == 0 {
		return nil, ErrInvalidDuration
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !e.registry.IsRegistered(normalized) {
		return nil, ErrTokenNotAllowed
	}
	expected, err := e.quote(service, duration, normalized)
	if err != nil {
		return nil, err
	}
	if amt.Cmp(expected) < 0 {
		return nil, fmt.Errorf("%w: paid %s, quoted %s", ErrInsufficientPayment, amt, expected)
	}
	info, ok := e.registry.Get(normalized)
	if !ok || info.Ledger == nil {
		return nil, ErrTokenNotAllowed
	}
	if err := info.Ledger.TransferFrom(e.vault, customer, e.treasury, amt); err != nil {
		return nil, fmt.Errorf("promo engine: payment transfer: %w", err)
	}
	id, err := e.state.OrderNextID()
	if err != nil {
		return nil, err
	}
	order := &Order{
		ID:        id,
		Customer:  customer,
		Service:   service,
		Duration:  duration,
		Token:     normalized,
		Amount:    amt,
		CreatedAt: e.now(),
		Status:    OrderPending,
		Metadata:  metadata,
	}
	if err := e.state.OrderPut(order); err != nil {
		return nil, err
	}
	if err := e.state.OrderIndexByCustomer(customer, id); err != nil {
		return nil, err
	}
	if err := e.state.OrderIndexByService(service, id); err != nil {
		return nil, err
	}
	e.emit(NewPaymentReceivedEvent(order))
	return order.Clone(), nil
}

func (e *Engine) loadOrder(id uint64) (*Order, error) {
	order, ok := e.state.OrderGet(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Activate marks a PENDING order as running. Owner only.
func (e *Engine) Activate(id uint64, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderPending || !CanTransition(order.Status, OrderActive) {
		return fmt.Errorf("%w: cannot activate in status %s", ErrInvalidStatus, order.Status)
	}
	order.Status = OrderActive
	order.ActivatedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(EventTypeServiceActivated, order, caller))
	return nil
}

// Complete marks an ACTIVE order as finished. Owner only.
func (e *Engine) Complete(id uint64, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Status != OrderActive || !CanTransition(order.Status, OrderCompleted) {
		return fmt.Errorf("%w: cannot complete in status %s", ErrInvalidStatus, order.Status)
	}
	order.Status = OrderCompleted
	order.CompletedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(EventTypeServiceCompleted, order, caller))
	return nil
}

// Cancel voids a PENDING or ACTIVE order and refunds the paid amount from the
// treasury. The treasury must have pre-approved the vault as a spender; that
// precondition is managed outside the order book.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if !CanTransition(order.Status, OrderCancelled) {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidStatus, order.Status)
	}
	info, ok := e.registry.Get(order.Token)
	if !ok || info.Ledger == nil {
		return ErrTokenNotAllowed
	}
	amount := cloneBigInt(order.Amount)
	if err := info.Ledger.TransferFrom(e.vault, e.treasury, order.Customer, amount); err != nil {
		return fmt.Errorf("promo engine: refund transfer: %w", err)
	}
	order.Status = OrderCancelled
	order.CompletedAt = e.now()
	if err := e.state.OrderPut(order); err != nil {
		return err
	}
	e.emit(NewOrderEvent(EventTypeServiceCancelled, order, caller))
	return nil
}

// SetPrice replaces the price row for a service. Owner only.
func (e *Engine) SetPrice(caller [20]byte, service ServiceType, price *Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !service.Valid() {
		return fmt.Errorf("promo engine: invalid service %d", service)
	}
	sanitized, err := SanitizePrice(price)
	if err != nil {
		return err
	}
	if err := e.state.PricePut(service, sanitized); err != nil {
		return err
	}
	e.emit(NewPriceUpdatedEvent(caller, service, sanitized))
	return nil
}

// Price returns the stored price row for a service.
func (e *Engine) Price(service ServiceType) (*Price, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	price, ok := e.state.PriceGet(service)
	if !ok {
		return nil, ErrServiceInactive
	}
	return price, nil
}

// Order returns a copy of the stored order record.
func (e *Engine) Order(id uint64) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadOrder(id)
}

// SeedCatalog installs price rows that are not yet present. Used at startup
// to load the default catalog without clobbering owner updates.
func (e *Engine) SeedCatalog(catalog map[ServiceType]*Price) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	for service, price := range catalog {
		if _, ok := e.state.PriceGet(service); ok {
			continue
		}
		sanitized, err := SanitizePrice(price)
		if err != nil {
			return err
		}
		if err := e.state.PricePut(service, sanitized); err != nil {
			return err
		}
	}
	return nil
}
