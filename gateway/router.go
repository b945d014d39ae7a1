package gateway

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"bountygo/native/escrow"
	"bountygo/native/promo"
	"bountygo/state"
)

// Config wires the query gateway over the ledger engines. The gateway is
// strictly read-only; mutations go through the JSON-RPC endpoint.
type Config struct {
	Escrow        *escrow.Engine
	Promo         *promo.Engine
	State         *state.Manager
	Authenticator *Authenticator
	Observability *Observability
	Logger        *slog.Logger
}

// Server serves the read-only REST surface.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observability == nil {
		cfg.Observability = NewObservability(cfg.Logger)
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// Handler builds the chi router for the gateway.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.cfg.Observability.Middleware("gateway"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.cfg.Observability.MetricsHandler())

	r.Route("/v1", func(vr chi.Router) {
		if s.cfg.Authenticator != nil {
			vr.Use(s.cfg.Authenticator.Middleware())
		}
		vr.Get("/escrow/tasks/{id}", s.handleTask)
		vr.Get("/escrow/tasks", s.handleTaskList)
		vr.Get("/escrow/disputes/{id}", s.handleDispute)
		vr.Get("/promo/orders/{id}", s.handleOrder)
		vr.Get("/promo/orders", s.handleOrderList)
		vr.Get("/promo/prices/{service}", s.handlePrice)
	})
	return r
}

// Start serves the gateway on the supplied address.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting query gateway", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type taskView struct {
	TaskID         string `json:"taskId"`
	Sponsor        string `json:"sponsor"`
	Winner         string `json:"winner,omitempty"`
	Token          string `json:"token"`
	Amount         string `json:"amount"`
	Deadline       int64  `json:"deadline"`
	DepositTime    int64  `json:"depositTime"`
	CompletionTime int64  `json:"completionTime,omitempty"`
	Status         string `json:"status"`
	HasDispute     bool   `json:"hasDispute"`
	DisputeReason  string `json:"disputeReason,omitempty"`
}

func newTaskView(t *escrow.Task) taskView {
	view := taskView{
		TaskID:         "0x" + hex.EncodeToString(t.ID[:]),
		Sponsor:        common.Address(t.Sponsor).Hex(),
		Token:          t.Token,
		Deadline:       t.Deadline,
		DepositTime:    t.DepositTime,
		CompletionTime: t.CompletionTime,
		Status:         t.Status.String(),
		HasDispute:     t.HasDispute,
		DisputeReason:  t.DisputeReason,
	}
	if t.Winner != ([20]byte{}) {
		view.Winner = common.Address(t.Winner).Hex()
	}
	if t.Amount != nil {
		view.Amount = t.Amount.String()
	}
	return view
}

type disputeView struct {
	DisputeID  uint64 `json:"disputeId"`
	TaskID     string `json:"taskId"`
	Initiator  string `json:"initiator"`
	Reason     string `json:"reason"`
	CreatedAt  int64  `json:"createdAt"`
	Resolved   bool   `json:"resolved"`
	Resolver   string `json:"resolver,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	ResolvedAt int64  `json:"resolvedAt,omitempty"`
}

func newDisputeView(d *escrow.Dispute) disputeView {
	view := disputeView{
		DisputeID:  d.ID,
		TaskID:     "0x" + hex.EncodeToString(d.TaskID[:]),
		Initiator:  common.Address(d.Initiator).Hex(),
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
		Resolved:   d.Resolved,
		Resolution: d.Resolution,
		ResolvedAt: d.ResolvedAt,
	}
	if d.Resolver != ([20]byte{}) {
		view.Resolver = common.Address(d.Resolver).Hex()
	}
	return view
}

type orderView struct {
	OrderID     uint64 `json:"orderId"`
	Customer    string `json:"customer"`
	Service     string `json:"service"`
	Duration    uint64 `json:"duration"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	CreatedAt   int64  `json:"createdAt"`
	ActivatedAt int64  `json:"activatedAt,omitempty"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	Status      string `json:"status"`
	Metadata    string `json:"metadata,omitempty"`
}

func newOrderView(o *promo.Order) orderView {
	view := orderView{
		OrderID:     o.ID,
		Customer:    common.Address(o.Customer).Hex(),
		Service:     o.Service.String(),
		Duration:    o.Duration,
		CreatedAt:   o.CreatedAt,
		ActivatedAt: o.ActivatedAt,
		CompletedAt: o.CompletedAt,
		Token:       o.Token,
		Status:      o.Status.String(),
		Metadata:    o.Metadata,
	}
	if o.Amount != nil {
		view.Amount = o.Amount.String()
	}
	return view
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHexTaskID(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "task id must be 32 hex bytes")
		return
	}
	task, err := s.cfg.Escrow.Task(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, newTaskView(task))
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	sponsor := strings.TrimSpace(r.URL.Query().Get("sponsor"))
	winner := strings.TrimSpace(r.URL.Query().Get("winner"))
	var (
		tasks []*escrow.Task
		err   error
	)
	switch {
	case sponsor != "" && winner != "":
		writeJSONError(w, http.StatusBadRequest, "sponsor and winner filters are mutually exclusive")
		return
	case sponsor != "":
		addr, ok := parseHexAddress(sponsor)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid sponsor address")
			return
		}
		tasks, err = s.cfg.State.TasksBySponsor(addr)
	case winner != "":
		addr, ok := parseHexAddress(winner)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid winner address")
			return
		}
		tasks, err = s.cfg.State.TasksByWinner(addr)
	default:
		writeJSONError(w, http.StatusBadRequest, "sponsor or winner filter required")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, newTaskView(task))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}
	dispute, err := s.cfg.Escrow.Dispute(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "dispute not found")
		return
	}
	writeJSON(w, http.StatusOK, newDisputeView(dispute))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	order, err := s.cfg.Promo.Order(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	customer := strings.TrimSpace(r.URL.Query().Get("customer"))
	service := strings.TrimSpace(r.URL.Query().Get("service"))
	var (
		orders []*promo.Order
		err    error
	)
	switch {
	case customer != "" && service != "":
		writeJSONError(w, http.StatusBadRequest, "customer and service filters are mutually exclusive")
		return
	case customer != "":
		addr, ok := parseHexAddress(customer)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "invalid customer address")
			return
		}
		orders, err = s.cfg.State.OrdersByCustomer(addr)
	case service != "":
		svc, parseErr := promo.ParseServiceType(service)
		if parseErr != nil {
			writeJSONError(w, http.StatusBadRequest, "unknown service type")
			return
		}
		orders, err = s.cfg.State.OrdersByService(svc)
	default:
		writeJSONError(w, http.StatusBadRequest, "customer or service filter required")
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, newOrderView(order))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	svc, err := promo.ParseServiceType(chi.URLParam(r, "service"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unknown service type")
		return
	}
	price, err := s.cfg.Promo.Price(svc)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "price not found")
		return
	}
	out := map[string]interface{}{
		"service":      svc.String(),
		"pricePerDay":  "0",
		"pricePerUser": "0",
		"active":       price.Active,
	}
	if price.PerDay != nil {
		out["pricePerDay"] = price.PerDay.String()
	}
	if price.PerUser != nil {
		out["pricePerUser"] = price.PerUser.String()
	}
	writeJSON(w, http.StatusOK, out)
}

func parseHexAddress(value string) ([20]byte, bool) {
	if !common.IsHexAddress(value) {
		return [20]byte{}, false
	}
	return common.HexToAddress(value), true
}

func parseHexTaskID(value string) ([32]byte, bool) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != 32 {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
