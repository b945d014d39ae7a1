package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"bountygo/native/escrow"
	"bountygo/native/promo"
	"bountygo/native/token"
	"bountygo/state"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025

	codePromoInvalidParams = -32031
	codePromoNotFound      = -32032
	codePromoForbidden     = -32033
	codePromoConflict      = -32034
	codePromoInternal      = -32035
)

// Server exposes the escrow and promotion engines over JSON-RPC 2.0.
type Server struct {
	escrow    *escrow.Engine
	promo     *promo.Engine
	state     *state.Manager
	registry  *token.Registry
	ledgers   map[string]token.Ledger
	authToken string
	logger    *slog.Logger
}

// NewServer builds an RPC server over the supplied engines. The optional
// BOUNTYGO_RPC_TOKEN environment variable gates mutating methods behind a
// bearer token.
func NewServer(escrowEngine *escrow.Engine, promoEngine *promo.Engine, manager *state.Manager, registry *token.Registry, ledgers map[string]token.Ledger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		escrow:    escrowEngine,
		promo:     promoEngine,
		state:     manager,
		registry:  registry,
		ledgers:   ledgers,
		authToken: strings.TrimSpace(os.Getenv("BOUNTYGO_RPC_TOKEN")),
		logger:    logger,
	}
}

func (s *Server) registrySymbols() []string {
	if s.registry == nil {
		return nil
	}
	return s.registry.Symbols()
}

// Handler returns the HTTP handler serving the JSON-RPC endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

// Start serves the JSON-RPC endpoint on the supplied address.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a structured JSON-RPC error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, 0, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	handler, ok := s.routes()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	handler(w, r, &req)
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_deposit":          s.handleEscrowDeposit,
		"escrow_release":          s.handleEscrowRelease,
		"escrow_refundExpired":    s.handleEscrowRefundExpired,
		"escrow_createDispute":    s.handleEscrowCreateDispute,
		"escrow_resolveDispute":   s.handleEscrowResolveDispute,
		"escrow_get":              s.handleEscrowGet,
		"escrow_getDispute":       s.handleEscrowGetDispute,
		"escrow_listBySponsor":    s.handleEscrowListBySponsor,
		"escrow_listByWinner":     s.handleEscrowListByWinner,
		"escrow_addResolver":      s.handleEscrowAddResolver,
		"escrow_removeResolver":   s.handleEscrowRemoveResolver,
		"escrow_setFee":           s.handleEscrowSetFee,
		"escrow_setDisputeWindow": s.handleEscrowSetDisputeWindow,
		"escrow_setPaused":        s.handleEscrowSetPaused,
		"escrow_withdraw":         s.handleEscrowWithdraw,
		"token_add":               s.handleTokenAdd,
		"token_remove":            s.handleTokenRemove,
		"token_list":              s.handleTokenList,
		"promo_pay":               s.handlePromoPay,
		"promo_activate":          s.handlePromoActivate,
		"promo_complete":          s.handlePromoComplete,
		"promo_cancel":            s.handlePromoCancel,
		"promo_get":               s.handlePromoGet,
		"promo_quote":             s.handlePromoQuote,
		"promo_listByCustomer":    s.handlePromoListByCustomer,
		"promo_listByService":     s.handlePromoListByService,
		"promo_setPrice":          s.handlePromoSetPrice,
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) != s.authToken {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status, id, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseTaskID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return id, fmt.Errorf("task id must be 32 hex bytes")
	}
	copy(id[:], raw)
	return id, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseNonNegativeBigInt(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func formatTaskID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

// escrowErrorCode maps engine errors onto the escrow module code range.
func escrowErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, escrow.ErrTaskNotFound), errors.Is(err, escrow.ErrDisputeNotFound):
		return http.StatusNotFound, codeEscrowNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusForbidden, codeEscrowForbidden
	case errors.Is(err, escrow.ErrTaskExists),
		errors.Is(err, escrow.ErrDisputeOpen),
		errors.Is(err, escrow.ErrDisputeResolved),
		errors.Is(err, escrow.ErrInvalidStatus),
		errors.Is(err, escrow.ErrDisputeWindowClosed),
		errors.Is(err, escrow.ErrDeadlineNotReached):
		return http.StatusConflict, codeEscrowConflict
	case errors.Is(err, escrow.ErrTokenNotAllowed),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrDeadlinePast),
		errors.Is(err, escrow.ErrZeroWinner):
		return http.StatusBadRequest, codeEscrowInvalidParams
	default:
		return http.StatusInternalServerError, codeEscrowInternal
	}
}

// promoErrorCode maps engine errors onto the promo module code range.
func promoErrorCode(err error) (int, int) {
	switch {
	case errors.Is(err, promo.ErrOrderNotFound):
		return http.StatusNotFound, codePromoNotFound
	case errors.Is(err, promo.ErrUnauthorized):
		return http.StatusForbidden, codePromoForbidden
	case errors.Is(err, promo.ErrInvalidStatus):
		return http.StatusConflict, codePromoConflict
	case errors.Is(err, promo.ErrTokenNotAllowed),
		errors.Is(err, promo.ErrInvalidDuration),
		errors.Is(err, promo.ErrInvalidAmount),
		errors.Is(err, promo.ErrServiceInactive),
		errors.Is(err, promo.ErrInsufficientPayment):
		return http.StatusBadRequest, codePromoInvalidParams
	default:
		return http.StatusInternalServerError, codePromoInternal
	}
}
