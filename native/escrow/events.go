package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"bountygo/core/types"
)

const (
	EventTypeDeposited           = "escrow.deposited"
	EventTypeReleased            = "escrow.released"
	EventTypeRefunded            = "escrow.refunded"
	EventTypeDisputeCreated      = "escrow.dispute_created"
	EventTypeDisputeResolved     = "escrow.dispute_resolved"
	EventTypeResolverAdded       = "escrow.resolver_added"
	EventTypeResolverRemoved     = "escrow.resolver_removed"
	EventTypeFeeUpdated          = "escrow.fee_updated"
	EventTypeWindowUpdated       = "escrow.window_updated"
	EventTypeTokenAdded          = "escrow.token_added"
	EventTypeTokenRemoved        = "escrow.token_removed"
	EventTypeEmergencyWithdrawal = "escrow.emergency_withdrawal"
)

func taskAttributes(t *Task) map[string]string {
	attrs := make(map[string]string)
	if t == nil {
		return attrs
	}
	attrs["taskId"] = hex.EncodeToString(t.ID[:])
	attrs["sponsor"] = hex.EncodeToString(t.Sponsor[:])
	attrs["token"] = t.Token
	if t.Amount != nil {
		attrs["amount"] = t.Amount.String()
	}
	attrs["deadline"] = strconv.FormatInt(t.Deadline, 10)
	attrs["status"] = t.Status.String()
	if t.Winner != ([20]byte{}) {
		attrs["winner"] = hex.EncodeToString(t.Winner[:])
	}
	return attrs
}

// NewDepositedEvent returns the canonical payload emitted when a reward enters
// custody.
func NewDepositedEvent(t *Task, actor [20]byte) *types.Event {
	attrs := taskAttributes(t)
	attrs["actor"] = hex.EncodeToString(actor[:])
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewReleasedEvent returns the canonical payload emitted when a reward is paid
// out, carrying the exact fee split.
func NewReleasedEvent(t *Task, actor [20]byte, fee, payout *big.Int) *types.Event {
	attrs := taskAttributes(t)
	attrs["actor"] = hex.EncodeToString(actor[:])
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	if payout != nil {
		attrs["payout"] = payout.String()
	}
	return &types.Event{Type: EventTypeReleased, Attributes: attrs}
}

// NewRefundedEvent returns the canonical payload emitted when custody returns
// to the sponsor.
func NewRefundedEvent(t *Task, actor [20]byte) *types.Event {
	attrs := taskAttributes(t)
	attrs["actor"] = hex.EncodeToString(actor[:])
	return &types.Event{Type: EventTypeRefunded, Attributes: attrs}
}

// NewDisputeCreatedEvent returns the canonical payload emitted when a dispute
// is opened against a task.
func NewDisputeCreatedEvent(d *Dispute, t *Task) *types.Event {
	attrs := taskAttributes(t)
	if d != nil {
		attrs["disputeId"] = strconv.FormatUint(d.ID, 10)
		attrs["actor"] = hex.EncodeToString(d.Initiator[:])
		attrs["reason"] = d.Reason
	}
	return &types.Event{Type: EventTypeDisputeCreated, Attributes: attrs}
}

// NewDisputeResolvedEvent returns the canonical payload emitted when a dispute
// is adjudicated.
func NewDisputeResolvedEvent(d *Dispute, t *Task, releaseToWinner bool) *types.Event {
	attrs := taskAttributes(t)
	if d != nil {
		attrs["disputeId"] = strconv.FormatUint(d.ID, 10)
		attrs["actor"] = hex.EncodeToString(d.Resolver[:])
		attrs["resolution"] = d.Resolution
	}
	attrs["releaseToWinner"] = strconv.FormatBool(releaseToWinner)
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

// NewResolverEvent returns the payload for resolver set changes.
func NewResolverEvent(eventType string, actor, resolver [20]byte) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"actor":    hex.EncodeToString(actor[:]),
		"resolver": hex.EncodeToString(resolver[:]),
	}}
}

// NewParamEvent returns the payload for fee or window parameter updates.
func NewParamEvent(eventType string, actor [20]byte, value uint64) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"actor": hex.EncodeToString(actor[:]),
		"value": strconv.FormatUint(value, 10),
	}}
}

// NewTokenEvent returns the payload for allow-list changes.
func NewTokenEvent(eventType string, actor [20]byte, symbol string) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"actor": hex.EncodeToString(actor[:]),
		"token": symbol,
	}}
}

// NewEmergencyWithdrawalEvent returns the payload for an owner-forced vault
// withdrawal.
func NewEmergencyWithdrawalEvent(actor [20]byte, symbol string, to [20]byte, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"actor": hex.EncodeToString(actor[:]),
		"token": symbol,
		"to":    hex.EncodeToString(to[:]),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeEmergencyWithdrawal, Attributes: attrs}
}
