package enums

import "fmt"

// OrderStatus tracks the lifecycle of a dispatch order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusDelivered OrderStatus = "delivered"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAccepted,
	OrderStatusRejected,
	OrderStatusDelivered,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// OrderDecision represents the call an expert makes on a pending order.
type OrderDecision string

const (
	// OrderDecisionAccept indicates the order is accepted for dispatch.
	OrderDecisionAccept OrderDecision = "accept"
	// OrderDecisionReject indicates the order is rejected.
	OrderDecisionReject OrderDecision = "reject"
)

// ParseOrderDecision converts raw input into OrderDecision.
func ParseOrderDecision(value string) (OrderDecision, error) {
	switch OrderDecision(value) {
	case OrderDecisionAccept, OrderDecisionReject:
		return OrderDecision(value), nil
	}
	return "", fmt.Errorf("invalid order decision %q", value)
}

// ResultingStatus maps a decision to the status it produces.
func (d OrderDecision) ResultingStatus() OrderStatus {
	if d == OrderDecisionAccept {
		return OrderStatusAccepted
	}
	return OrderStatusRejected
}
