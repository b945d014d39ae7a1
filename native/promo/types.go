package promo

import (
	"fmt"
	"math/big"
	"strings"
)

// ServiceType enumerates the promotion services sold by the order book.
type ServiceType uint8

const (
	ServiceTaskTop ServiceType = iota
	ServicePrecisionPush
	ServiceBannerDisplay
	ServiceTagPriority
)

// String returns the canonical snake_case name of the service.
func (s ServiceType) String() string {
	switch s {
	case ServiceTaskTop:
		return "task_top"
	case ServicePrecisionPush:
		return "precision_push"
	case ServiceBannerDisplay:
		return "banner_display"
	case ServiceTagPriority:
		return "tag_priority"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the service value is within the supported range.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTaskTop, ServicePrecisionPush, ServiceBannerDisplay, ServiceTagPriority:
		return true
	default:
		return false
	}
}

// ParseServiceType resolves a canonical service name.
func ParseServiceType(name string) (ServiceType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "task_top":
		return ServiceTaskTop, nil
	case "precision_push":
		return ServicePrecisionPush, nil
	case "banner_display":
		return ServiceBannerDisplay, nil
	case "tag_priority":
		return ServiceTagPriority, nil
	default:
		return 0, fmt.Errorf("promo: unknown service %q", name)
	}
}

// OrderStatus represents the lifecycle states of a promotion order.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderActive
	OrderCompleted
	OrderCancelled
)

// String returns the canonical lowercase name of the status.
func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderActive:
		return "active"
	case OrderCompleted:
		return "completed"
	case OrderCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderActive, OrderCompleted, OrderCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enumerates the legal edges of the order state machine:
// PENDING -> {ACTIVE, CANCELLED} and ACTIVE -> {COMPLETED, CANCELLED}.
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case OrderPending:
		return to == OrderActive || to == OrderCancelled
	case OrderActive:
		return to == OrderCompleted || to == OrderCancelled
	default:
		return false
	}
}

// Order records a paid promotion purchase. Duration counts days, except for
// precision push where it counts targeted users.
type Order struct {
	ID          uint64
	Customer    [20]byte
	Service     ServiceType
	Duration    uint64
	Token       string
	Amount      *big.Int
	CreatedAt   int64
	ActivatedAt int64
	CompletedAt int64
	Status      OrderStatus
	Metadata    string
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Price is the owner-maintained price row for one service. Updates replace the
// whole row.
type Price struct {
	PerDay  *big.Int
	PerUser *big.Int
	Active  bool
}

// Clone returns a deep copy of the price row.
func (p *Price) Clone() *Price {
	if p == nil {
		return nil
	}
	clone := &Price{Active: p.Active, PerDay: big.NewInt(0), PerUser: big.NewInt(0)}
	if p.PerDay != nil {
		clone.PerDay = new(big.Int).Set(p.PerDay)
	}
	if p.PerUser != nil {
		clone.PerUser = new(big.Int).Set(p.PerUser)
	}
	return clone
}

// SanitizePrice validates a price row, returning a cloned instance with
// non-nil amounts.
func SanitizePrice(p *Price) (*Price, error) {
	if p == nil {
		return nil, fmt.Errorf("promo: nil price")
	}
	clone := p.Clone()
	if clone.PerDay.Sign() < 0 || clone.PerUser.Sign() < 0 {
		return nil, fmt.Errorf("promo: price must be non-negative")
	}
	return clone, nil
}

// pow10 returns 10^exp as a big.Int.
func pow10(exp uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

// DefaultCatalog returns the launch price rows denominated in the base token's
// smallest unit: task top 10/day, precision push 0.1/user, banner display
// 50/day, tag priority 20/day.
func DefaultCatalog(baseDecimals uint8) map[ServiceType]*Price {
	unit := pow10(baseDecimals)
	scale := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), unit) }
	tenth := new(big.Int).Div(unit, big.NewInt(10))
	return map[ServiceType]*Price{
		ServiceTaskTop:       {PerDay: scale(10), PerUser: big.NewInt(0), Active: true},
		ServicePrecisionPush: {PerDay: big.NewInt(0), PerUser: tenth, Active: true},
		ServiceBannerDisplay: {PerDay: scale(50), PerUser: big.NewInt(0), Active: true},
		ServiceTagPriority:   {PerDay: scale(20), PerUser: big.NewInt(0), Active: true},
	}
}
