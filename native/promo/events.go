package promo

import (
	"encoding/hex"
	"strconv"

	"bountygo/core/types"
)

const (
	EventTypePaymentReceived  = "promo.payment_received"
	EventTypeServiceActivated = "promo.service_activated"
	EventTypeServiceCompleted = "promo.service_completed"
	EventTypeServiceCancelled = "promo.service_cancelled"
	EventTypePriceUpdated     = "promo.price_updated"
)

func orderAttributes(o *Order) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["orderId"] = strconv.FormatUint(o.ID, 10)
	attrs["customer"] = hex.EncodeToString(o.Customer[:])
	attrs["service"] = o.Service.String()
	attrs["duration"] = strconv.FormatUint(o.Duration, 10)
	attrs["token"] = o.Token
	if o.Amount != nil {
		attrs["amount"] = o.Amount.String()
	}
	attrs["status"] = o.Status.String()
	return attrs
}

// NewPaymentReceivedEvent returns the canonical payload emitted when a
// promotion purchase is paid.
func NewPaymentReceivedEvent(o *Order) *types.Event {
	attrs := orderAttributes(o)
	if o != nil {
		attrs["actor"] = hex.EncodeToString(o.Customer[:])
	}
	return &types.Event{Type: EventTypePaymentReceived, Attributes: attrs}
}

// NewOrderEvent returns the payload for owner-driven lifecycle transitions.
func NewOrderEvent(eventType string, o *Order, actor [20]byte) *types.Event {
	attrs := orderAttributes(o)
	attrs["actor"] = hex.EncodeToString(actor[:])
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPriceUpdatedEvent returns the payload for a price catalog update.
func NewPriceUpdatedEvent(actor [20]byte, service ServiceType, price *Price) *types.Event {
	attrs := map[string]string{
		"actor":   hex.EncodeToString(actor[:]),
		"service": service.String(),
	}
	if price != nil {
		if price.PerDay != nil {
			attrs["pricePerDay"] = price.PerDay.String()
		}
		if price.PerUser != nil {
			attrs["pricePerUser"] = price.PerUser.String()
		}
		attrs["active"] = strconv.FormatBool(price.Active)
	}
	return &types.Event{Type: EventTypePriceUpdated, Attributes: attrs}
}
