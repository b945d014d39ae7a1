package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"

	"bountygo/native/escrow"
	"bountygo/native/promo"
	"bountygo/storage"
)

const (
	prefixTask          = "escrow/task/"
	prefixCustody       = "escrow/custody/"
	prefixDispute       = "escrow/dispute/"
	keyDisputeSeq       = "escrow/dispute/seq"
	prefixSponsorIndex  = "escrow/index/sponsor/"
	prefixWinnerIndex   = "escrow/index/winner/"
	prefixOrder         = "promo/order/"
	keyOrderSeq         = "promo/order/seq"
	prefixCustomerIndex = "promo/index/customer/"
	prefixServiceIndex  = "promo/index/service/"
	prefixPrice         = "promo/price/"
	prefixParams        = "params/"
)

// ErrInsufficientCustody is returned when a debit exceeds the custody balance
// recorded for a task.
var ErrInsufficientCustody = errors.New("state: insufficient task custody")

// Manager persists tasks, disputes, orders, prices, parameters, and their
// secondary indices in a key-value database. It implements the narrow state
// interfaces consumed by the escrow and promo engines plus the read-side
// queries used by RPC and the gateway. All access is serialized by a single
// mutex.
type Manager struct {
	mu     sync.Mutex
	db     storage.Database
	logger *slog.Logger
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, logger: slog.Default()}
}

// SetLogger overrides the logger used to report unreadable records.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// corrupted reports a record that exists but cannot be decoded. Lookups
// treat it as missing so the engines keep running; the log line is the
// operator's cue to inspect the database.
func (m *Manager) corrupted(key string, err error) {
	m.logger.Error("state: unreadable record", "key", key, "err", err)
}

type storedTask struct {
	ID             string `json:"id"`
	Sponsor        string `json:"sponsor"`
	Winner         string `json:"winner,omitempty"`
	Token          string `json:"token"`
	Amount         string `json:"amount"`
	Deadline       int64  `json:"deadline"`
	DepositTime    int64  `json:"depositTime"`
	CompletionTime int64  `json:"completionTime,omitempty"`
	Status         uint8  `json:"status"`
	HasDispute     bool   `json:"hasDispute"`
	DisputeReason  string `json:"disputeReason,omitempty"`
}

type storedDispute struct {
	ID         uint64 `json:"id"`
	TaskID     string `json:"taskId"`
	Initiator  string `json:"initiator"`
	Reason     string `json:"reason"`
	CreatedAt  int64  `json:"createdAt"`
	Resolved   bool   `json:"resolved"`
	Resolver   string `json:"resolver,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
}

type storedOrder struct {
	ID          uint64 `json:"id"`
	Customer    string `json:"customer"`
	Service     uint8  `json:"service"`
	Duration    uint64 `json:"duration"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	CreatedAt   int64  `json:"createdAt"`
	ActivatedAt int64  `json:"activatedAt,omitempty"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	Status      uint8  `json:"status"`
	Metadata    string `json:"metadata,omitempty"`
}

type storedPrice struct {
	PerDay  string `json:"pricePerDay"`
	PerUser string `json:"pricePerUser"`
	Active  bool   `json:"active"`
}

type storedCustody struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func encodeAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func decodeAddr(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return addr, fmt.Errorf("state: invalid address %q", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func decodeID(s string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return id, fmt.Errorf("state: invalid identifier %q", s)
	}
	copy(id[:], raw)
	return id, nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: invalid amount %q", s)
	}
	return amount, nil
}

func (m *Manager) getJSON(key string, out interface{}) (bool, error) {
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key string, v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	return m.db.Put([]byte(key), encoded)
}

func (m *Manager) nextSeq(key string) (uint64, error) {
	var current uint64
	ok, err := m.getJSON(key, &current)
	if err != nil {
		return 0, err
	}
	if !ok {
		current = 0
	}
	next := current + 1
	if err := m.putJSON(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// appendIndex adds the value to an append-only index list, ignoring
// duplicates. Entries are never removed, even after terminal status.
func (m *Manager) appendIndex(key, value string) error {
	var list []string
	if _, err := m.getJSON(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if existing == value {
			return nil
		}
	}
	list = append(list, value)
	return m.putJSON(key, list)
}

// TaskPut persists a sanitized copy of the task.
func (m *Manager) TaskPut(t *escrow.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sanitized, err := escrow.SanitizeTask(t)
	if err != nil {
		return err
	}
	stored := storedTask{
		ID:             encodeID(sanitized.ID),
		Sponsor:        encodeAddr(sanitized.Sponsor),
		Token:          sanitized.Token,
		Amount:         sanitized.Amount.String(),
		Deadline:       sanitized.Deadline,
		DepositTime:    sanitized.DepositTime,
		CompletionTime: sanitized.CompletionTime,
		Status:         uint8(sanitized.Status),
		HasDispute:     sanitized.HasDispute,
		DisputeReason:  sanitized.DisputeReason,
	}
	if sanitized.Winner != ([20]byte{}) {
		stored.Winner = encodeAddr(sanitized.Winner)
	}
	return m.putJSON(prefixTask+stored.ID, stored)
}

// TaskGet loads a task by id, returning a copy safe for mutation.
func (m *Manager) TaskGet(id [32]byte) (*escrow.Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskGet(id)
}

func (m *Manager) taskGet(id [32]byte) (*escrow.Task, bool) {
	key := prefixTask + encodeID(id)
	var stored storedTask
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	task, err := decodeTask(stored)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	return task, true
}

func decodeTask(stored storedTask) (*escrow.Task, error) {
	id, err := decodeID(stored.ID)
	if err != nil {
		return nil, err
	}
	sponsor, err := decodeAddr(stored.Sponsor)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(stored.Amount)
	if err != nil {
		return nil, err
	}
	task := &escrow.Task{
		ID:             id,
		Sponsor:        sponsor,
		Token:          stored.Token,
		Amount:         amount,
		Deadline:       stored.Deadline,
		DepositTime:    stored.DepositTime,
		CompletionTime: stored.CompletionTime,
		Status:         escrow.TaskStatus(stored.Status),
		HasDispute:     stored.HasDispute,
		DisputeReason:  stored.DisputeReason,
	}
	if stored.Winner != "" {
		winner, err := decodeAddr(stored.Winner)
		if err != nil {
			return nil, err
		}
		task.Winner = winner
	}
	return task, nil
}

// TaskCredit records custody entering the vault for a task.
func (m *Manager) TaskCredit(id [32]byte, token string, amt *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: invalid credit amount")
	}
	key := prefixCustody + encodeID(id)
	current, err := m.custody(key)
	if err != nil {
		return err
	}
	current.Add(current, amt)
	return m.putJSON(key, storedCustody{Token: token, Amount: current.String()})
}

// TaskDebit records custody leaving the vault for a task. Over-debit is
// rejected, which is what makes a double payout structurally impossible.
func (m *Manager) TaskDebit(id [32]byte, token string, amt *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: invalid debit amount")
	}
	key := prefixCustody + encodeID(id)
	current, err := m.custody(key)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return ErrInsufficientCustody
	}
	current.Sub(current, amt)
	return m.putJSON(key, storedCustody{Token: token, Amount: current.String()})
}

// TaskCustody reports the custody balance currently held for a task.
func (m *Manager) TaskCustody(id [32]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custody(prefixCustody + encodeID(id))
}

func (m *Manager) custody(key string) (*big.Int, error) {
	var stored storedCustody
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored.Amount)
}

// TaskIndexBySponsor appends the task to the sponsor's index.
func (m *Manager) TaskIndexBySponsor(addr [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendIndex(prefixSponsorIndex+encodeAddr(addr), encodeID(id))
}

// TaskIndexByWinner appends the task to the winner's index.
func (m *Manager) TaskIndexByWinner(addr [20]byte, id [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendIndex(prefixWinnerIndex+encodeAddr(addr), encodeID(id))
}

// TasksBySponsor returns every task ever deposited by the sponsor.
func (m *Manager) TasksBySponsor(addr [20]byte) ([]*escrow.Task, error) {
	return m.tasksByIndex(prefixSponsorIndex + encodeAddr(addr))
}

// TasksByWinner returns every task ever released to the winner.
func (m *Manager) TasksByWinner(addr [20]byte) ([]*escrow.Task, error) {
	return m.tasksByIndex(prefixWinnerIndex + encodeAddr(addr))
}

func (m *Manager) tasksByIndex(key string) ([]*escrow.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []string
	if _, err := m.getJSON(key, &list); err != nil {
		return nil, err
	}
	out := make([]*escrow.Task, 0, len(list))
	for _, entry := range list {
		id, err := decodeID(entry)
		if err != nil {
			return nil, err
		}
		if task, ok := m.taskGet(id); ok {
			out = append(out, task)
		}
	}
	return out, nil
}

// DisputePut persists a dispute record.
func (m *Manager) DisputePut(d *escrow.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d == nil {
		return fmt.Errorf("state: nil dispute")
	}
	stored := storedDispute{
		ID:         d.ID,
		TaskID:     encodeID(d.TaskID),
		Initiator:  encodeAddr(d.Initiator),
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
		Resolved:   d.Resolved,
		Resolution: d.Resolution,
		ResolvedAt: d.ResolvedAt,
	}
	if d.Resolver != ([20]byte{}) {
		stored.Resolver = encodeAddr(d.Resolver)
	}
	return m.putJSON(prefixDispute+strconv.FormatUint(d.ID, 10), stored)
}

// DisputeGet loads a dispute by id.
func (m *Manager) DisputeGet(id uint64) (*escrow.Dispute, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixDispute + strconv.FormatUint(id, 10)
	var stored storedDispute
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	taskID, err := decodeID(stored.TaskID)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	initiator, err := decodeAddr(stored.Initiator)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	dispute := &escrow.Dispute{
		ID:         stored.ID,
		TaskID:     taskID,
		Initiator:  initiator,
		Reason:     stored.Reason,
		CreatedAt:  stored.CreatedAt,
		Resolved:   stored.Resolved,
		Resolution: stored.Resolution,
		ResolvedAt: stored.ResolvedAt,
	}
	if stored.Resolver != "" {
		resolver, err := decodeAddr(stored.Resolver)
		if err != nil {
			return nil, false
		}
		dispute.Resolver = resolver
	}
	return dispute, true
}

// DisputeNextID allocates the next dispute identifier, starting at 1.
func (m *Manager) DisputeNextID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq(keyDisputeSeq)
}

// OrderPut persists an order record.
func (m *Manager) OrderPut(o *promo.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o == nil {
		return fmt.Errorf("state: nil order")
	}
	clone := o.Clone()
	stored := storedOrder{
		ID:          clone.ID,
		Customer:    encodeAddr(clone.Customer),
		Service:     uint8(clone.Service),
		Duration:    clone.Duration,
		Token:       clone.Token,
		Amount:      clone.Amount.String(),
		CreatedAt:   clone.CreatedAt,
		ActivatedAt: clone.ActivatedAt,
		CompletedAt: clone.CompletedAt,
		Status:      uint8(clone.Status),
		Metadata:    clone.Metadata,
	}
	return m.putJSON(prefixOrder+strconv.FormatUint(clone.ID, 10), stored)
}

// OrderGet loads an order by id, returning a copy safe for mutation.
func (m *Manager) OrderGet(id uint64) (*promo.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderGet(id)
}

func (m *Manager) orderGet(id uint64) (*promo.Order, bool) {
	key := prefixOrder + strconv.FormatUint(id, 10)
	var stored storedOrder
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	customer, err := decodeAddr(stored.Customer)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	amount, err := parseAmount(stored.Amount)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	return &promo.Order{
		ID:          stored.ID,
		Customer:    customer,
		Service:     promo.ServiceType(stored.Service),
		Duration:    stored.Duration,
		Token:       stored.Token,
		Amount:      amount,
		CreatedAt:   stored.CreatedAt,
		ActivatedAt: stored.ActivatedAt,
		CompletedAt: stored.CompletedAt,
		Status:      promo.OrderStatus(stored.Status),
		Metadata:    stored.Metadata,
	}, true
}

// OrderNextID allocates the next order identifier, starting at 1.
func (m *Manager) OrderNextID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSeq(keyOrderSeq)
}

// OrderIndexByCustomer appends the order to the customer's index.
func (m *Manager) OrderIndexByCustomer(addr [20]byte, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendIndex(prefixCustomerIndex+encodeAddr(addr), strconv.FormatUint(id, 10))
}

// OrderIndexByService appends the order to the per-service index.
func (m *Manager) OrderIndexByService(service promo.ServiceType, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendIndex(prefixServiceIndex+service.String(), strconv.FormatUint(id, 10))
}

// OrdersByCustomer returns every order the customer ever paid for.
func (m *Manager) OrdersByCustomer(addr [20]byte) ([]*promo.Order, error) {
	return m.ordersByIndex(prefixCustomerIndex + encodeAddr(addr))
}

// OrdersByService returns every order for the service type.
func (m *Manager) OrdersByService(service promo.ServiceType) ([]*promo.Order, error) {
	return m.ordersByIndex(prefixServiceIndex + service.String())
}

func (m *Manager) ordersByIndex(key string) ([]*promo.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []string
	if _, err := m.getJSON(key, &list); err != nil {
		return nil, err
	}
	out := make([]*promo.Order, 0, len(list))
	for _, entry := range list {
		id, err := strconv.ParseUint(entry, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("state: invalid order index entry %q", entry)
		}
		if order, ok := m.orderGet(id); ok {
			out = append(out, order)
		}
	}
	return out, nil
}

// PricePut persists a price row for a service.
func (m *Manager) PricePut(service promo.ServiceType, price *promo.Price) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sanitized, err := promo.SanitizePrice(price)
	if err != nil {
		return err
	}
	stored := storedPrice{
		PerDay:  sanitized.PerDay.String(),
		PerUser: sanitized.PerUser.String(),
		Active:  sanitized.Active,
	}
	return m.putJSON(prefixPrice+service.String(), stored)
}

// PriceGet loads the price row for a service.
func (m *Manager) PriceGet(service promo.ServiceType) (*promo.Price, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := prefixPrice + service.String()
	var stored storedPrice
	ok, err := m.getJSON(key, &stored)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	perDay, err := parseAmount(stored.PerDay)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	perUser, err := parseAmount(stored.PerUser)
	if err != nil {
		m.corrupted(key, err)
		return nil, false
	}
	return &promo.Price{PerDay: perDay, PerUser: perUser, Active: stored.Active}, true
}

// ParamStoreSet persists a raw parameter value.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return fmt.Errorf("state: params key must not be empty")
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	return m.db.Put([]byte(prefixParams+name), stored)
}

// ParamStoreGet loads a raw parameter value.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "" {
		return nil, false, fmt.Errorf("state: params key must not be empty")
	}
	raw, err := m.db.Get([]byte(prefixParams + name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
