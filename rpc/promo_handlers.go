package rpc

import (
	"net/http"

	"bountygo/native/promo"
	"bountygo/observability/metrics"
)

type promoPayParams struct {
	Customer string `json:"customer"`
	Service  string `json:"service"`
	Duration uint64 `json:"duration"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Metadata string `json:"metadata,omitempty"`
}

type promoOrderParams struct {
	OrderID uint64 `json:"orderId"`
	Caller  string `json:"caller"`
}

type promoOrderIDParams struct {
	OrderID uint64 `json:"orderId"`
}

type promoQuoteParams struct {
	Service  string `json:"service"`
	Duration uint64 `json:"duration"`
	Token    string `json:"token"`
}

type promoCustomerParams struct {
	Customer string `json:"customer"`
}

type promoServiceParams struct {
	Service string `json:"service"`
}

type promoPriceParams struct {
	Caller  string `json:"caller"`
	Service string `json:"service"`
	PerDay  string `json:"pricePerDay"`
	PerUser string `json:"pricePerUser"`
	Active  bool   `json:"active"`
}

type orderJSON struct {
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

func marshalOrder(o *promo.Order) orderJSON {
	out := orderJSON{
		OrderID:     o.ID,
		Customer:    formatAddress(o.Customer),
		Service:     o.Service.String(),
		Duration:    o.Duration,
		Token:       o.Token,
		CreatedAt:   o.CreatedAt,
		ActivatedAt: o.ActivatedAt,
		CompletedAt: o.CompletedAt,
		Status:      o.Status.String(),
		Metadata:    o.Metadata,
	}
	if o.Amount != nil {
		out.Amount = o.Amount.String()
	}
	return out
}

func (s *Server) handlePromoPay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params promoPayParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	customer, err := parseAddress(params.Customer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	service, err := promo.ParseServiceType(params.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	order, err := s.promo.Pay(customer, service, params.Duration, params.Token, amount, params.Metadata)
	if err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := promoErrorCode(err)
		writeError(w, status, req.ID, code, "promo_pay_failed", err.Error())
		return
	}
	metrics.Ledger().RecordPromoPayment(order.Service.String())
	writeResult(w, req.ID, marshalOrder(order))
}

func (s *Server) orderLifecycle(w http.ResponseWriter, r *http.Request, req *RPCRequest, action string) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params promoOrderParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	switch action {
	case "activate":
		err = s.promo.Activate(params.OrderID, caller)
	case "complete":
		err = s.promo.Complete(params.OrderID, caller)
	case "cancel":
		err = s.promo.Cancel(params.OrderID, caller)
	}
	if err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := promoErrorCode(err)
		writeError(w, status, req.ID, code, "promo_"+action+"_failed", err.Error())
		return
	}
	metrics.Ledger().RecordPromoLifecycle(action)
	order, err := s.promo.Order(params.OrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codePromoInternal, "promo_"+action+"_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalOrder(order))
}

func (s *Server) handlePromoActivate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.orderLifecycle(w, r, req, "activate")
}

func (s *Server) handlePromoComplete(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.orderLifecycle(w, r, req, "complete")
}

func (s *Server) handlePromoCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.orderLifecycle(w, r, req, "cancel")
}

func (s *Server) handlePromoGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params promoOrderIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	order, err := s.promo.Order(params.OrderID)
	if err != nil {
		status, code := promoErrorCode(err)
		writeError(w, status, req.ID, code, "promo_get_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalOrder(order))
}

func (s *Server) handlePromoQuote(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params promoQuoteParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	service, err := promo.ParseServiceType(params.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	quote, err := s.promo.Quote(service, params.Duration, params.Token)
	if err != nil {
		status, code := promoErrorCode(err)
		writeError(w, status, req.ID, code, "promo_quote_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"expectedAmount": quote.String()})
}

func (s *Server) handlePromoListByCustomer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params promoCustomerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	customer, err := parseAddress(params.Customer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	orders, err := s.state.OrdersByCustomer(customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codePromoInternal, "promo_list_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalOrders(orders))
}

func (s *Server) handlePromoListByService(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params promoServiceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	service, err := promo.ParseServiceType(params.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	orders, err := s.state.OrdersByService(service)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codePromoInternal, "promo_list_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalOrders(orders))
}

func marshalOrders(orders []*promo.Order) []orderJSON {
	out := make([]orderJSON, 0, len(orders))
	for _, order := range orders {
		out = append(out, marshalOrder(order))
	}
	return out
}

func (s *Server) handlePromoSetPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params promoPriceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	service, err := promo.ParseServiceType(params.Service)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	perDay, err := parseNonNegativeBigInt(params.PerDay)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	perUser, err := parseNonNegativeBigInt(params.PerUser)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePromoInvalidParams, "invalid_params", err.Error())
		return
	}
	price := &promo.Price{PerDay: perDay, PerUser: perUser, Active: params.Active}
	if err := s.promo.SetPrice(caller, service, price); err != nil {
		status, code := promoErrorCode(err)
		writeError(w, status, req.ID, code, "promo_set_price_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
