package rpc

import (
	"net/http"
	"strconv"
	"strings"

	"bountygo/native/escrow"
	"bountygo/observability/metrics"
)

type escrowDepositParams struct {
	TaskID   string `json:"taskId"`
	Sponsor  string `json:"sponsor"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Deadline int64  `json:"deadline"`
}

type escrowReleaseParams struct {
	TaskID string `json:"taskId"`
	Caller string `json:"caller"`
	Winner string `json:"winner"`
}

type escrowActorParams struct {
	TaskID string `json:"taskId"`
	Caller string `json:"caller"`
}

type escrowDisputeParams struct {
	TaskID string `json:"taskId"`
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

type escrowResolveParams struct {
	DisputeID       uint64 `json:"disputeId"`
	Caller          string `json:"caller"`
	Resolution      string `json:"resolution"`
	ReleaseToWinner bool   `json:"releaseToWinner"`
	Winner          string `json:"winner,omitempty"`
}

type escrowIDParams struct {
	TaskID string `json:"taskId"`
}

type escrowDisputeIDParams struct {
	DisputeID uint64 `json:"disputeId"`
}

type escrowAddressParams struct {
	Address string `json:"address"`
}

type escrowResolverParams struct {
	Caller   string `json:"caller"`
	Resolver string `json:"resolver"`
}

type escrowFeeParams struct {
	Caller string `json:"caller"`
	FeeBps uint32 `json:"feeBps"`
}

type escrowWindowParams struct {
	Caller  string `json:"caller"`
	Seconds int64  `json:"seconds"`
}

type escrowPauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type escrowWithdrawParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type taskJSON struct {
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

type disputeJSON struct {
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

func marshalTask(t *escrow.Task) taskJSON {
	out := taskJSON{
		TaskID:         formatTaskID(t.ID),
		Sponsor:        formatAddress(t.Sponsor),
		Token:          t.Token,
		Deadline:       t.Deadline,
		DepositTime:    t.DepositTime,
		CompletionTime: t.CompletionTime,
		Status:         t.Status.String(),
		HasDispute:     t.HasDispute,
		DisputeReason:  t.DisputeReason,
	}
	if t.Amount != nil {
		out.Amount = t.Amount.String()
	}
	if t.Winner != ([20]byte{}) {
		out.Winner = formatAddress(t.Winner)
	}
	return out
}

func marshalDispute(d *escrow.Dispute) disputeJSON {
	out := disputeJSON{
		DisputeID:  d.ID,
		TaskID:     formatTaskID(d.TaskID),
		Initiator:  formatAddress(d.Initiator),
		Reason:     d.Reason,
		CreatedAt:  d.CreatedAt,
		Resolved:   d.Resolved,
		Resolution: d.Resolution,
		ResolvedAt: d.ResolvedAt,
	}
	if d.Resolver != ([20]byte{}) {
		out.Resolver = formatAddress(d.Resolver)
	}
	return out
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowDepositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taskID, err := parseTaskID(params.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	sponsor, err := parseAddress(params.Sponsor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	task, err := s.escrow.Deposit(taskID, sponsor, params.Token, amount, params.Deadline)
	if err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_deposit_failed", err.Error())
		return
	}
	metrics.Ledger().RecordDeposit(task.Token)
	writeResult(w, req.ID, marshalTask(task))
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowReleaseParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taskID, err := parseTaskID(params.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	winner, err := parseAddress(params.Winner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.Release(taskID, caller, winner); err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_release_failed", err.Error())
		return
	}
	task, err := s.escrow.Task(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "escrow_release_failed", err.Error())
		return
	}
	metrics.Ledger().RecordRelease(task.Token)
	writeResult(w, req.ID, marshalTask(task))
}

func (s *Server) handleEscrowRefundExpired(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taskID, err := parseTaskID(params.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.RefundExpired(taskID, caller); err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_refund_failed", err.Error())
		return
	}
	task, err := s.escrow.Task(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "escrow_refund_failed", err.Error())
		return
	}
	metrics.Ledger().RecordRefund(task.Token)
	writeResult(w, req.ID, marshalTask(task))
}

func (s *Server) handleEscrowCreateDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowDisputeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taskID, err := parseTaskID(params.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	dispute, err := s.escrow.CreateDispute(taskID, caller, params.Reason)
	if err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_dispute_failed", err.Error())
		return
	}
	metrics.Ledger().RecordDisputeOpened()
	writeResult(w, req.ID, marshalDispute(dispute))
}

func (s *Server) handleEscrowResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	var winner [20]byte
	if params.ReleaseToWinner {
		winner, err = parseAddress(params.Winner)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	if err := s.escrow.ResolveDispute(params.DisputeID, caller, params.Resolution, params.ReleaseToWinner, winner); err != nil {
		metrics.Ledger().RecordRejection(req.Method)
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_resolve_failed", err.Error())
		return
	}
	outcome := "refund"
	if params.ReleaseToWinner {
		outcome = "release"
	}
	metrics.Ledger().RecordDisputeResolved(outcome)
	dispute, err := s.escrow.Dispute(params.DisputeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "escrow_resolve_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalDispute(dispute))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	taskID, err := parseTaskID(params.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	task, err := s.escrow.Task(taskID)
	if err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_get_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalTask(task))
}

func (s *Server) handleEscrowGetDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowDisputeIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	dispute, err := s.escrow.Dispute(params.DisputeID)
	if err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_get_dispute_failed", err.Error())
		return
	}
	writeResult(w, req.ID, marshalDispute(dispute))
}

func (s *Server) listTasks(w http.ResponseWriter, req *RPCRequest, byWinner bool) {
	var params escrowAddressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	var tasks []*escrow.Task
	if byWinner {
		tasks, err = s.state.TasksByWinner(addr)
	} else {
		tasks, err = s.state.TasksBySponsor(addr)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "escrow_list_failed", err.Error())
		return
	}
	out := make([]taskJSON, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, marshalTask(task))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowListBySponsor(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.listTasks(w, req, false)
}

func (s *Server) handleEscrowListByWinner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.listTasks(w, req, true)
}

func (s *Server) handleEscrowAddResolver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.resolverChange(w, r, req, true)
}

func (s *Server) handleEscrowRemoveResolver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.resolverChange(w, r, req, false)
}

func (s *Server) resolverChange(w http.ResponseWriter, r *http.Request, req *RPCRequest, add bool) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowResolverParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	resolver, err := parseAddress(params.Resolver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if add {
		err = s.escrow.AddResolver(caller, resolver)
	} else {
		err = s.escrow.RemoveResolver(caller, resolver)
	}
	if err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_resolver_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleEscrowSetFee(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowFeeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.SetFeeBps(caller, params.FeeBps); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_set_fee_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{"feeBps": strconv.FormatUint(uint64(params.FeeBps), 10)})
}

func (s *Server) handleEscrowSetDisputeWindow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowWindowParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.SetDisputeWindow(caller, params.Seconds); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_set_window_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]int64{"seconds": params.Seconds})
}

func (s *Server) handleEscrowSetPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowPauseParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.SetPaused(caller, params.Module, params.Paused); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_set_paused_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": params.Paused})
}

func (s *Server) handleEscrowWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowWithdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.EmergencyWithdraw(caller, params.Token, to, amount); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "escrow_withdraw_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type tokenChangeParams struct {
	Caller   string `json:"caller"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals,omitempty"`
}

func (s *Server) handleTokenAdd(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tokenChangeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	ledger, ok := s.ledgers[strings.ToUpper(strings.TrimSpace(params.Symbol))]
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "no ledger deployed for symbol")
		return
	}
	if err := s.escrow.AddToken(caller, params.Symbol, params.Decimals, ledger); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "token_add_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokenRemove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params tokenChangeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.escrow.RemoveToken(caller, params.Symbol); err != nil {
		status, code := escrowErrorCode(err)
		writeError(w, status, req.ID, code, "token_remove_failed", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleTokenList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, s.registrySymbols())
}
