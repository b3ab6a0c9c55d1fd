package services

import (
	"github.com/shopspring/decimal"
)

var (
	defaultFreeDeliveryAbove = decimal.NewFromInt(1000)
	defaultDeliveryFee       = decimal.NewFromInt(200)
)

// BillingCalculator derives order totals from line snapshots. It holds no state beyond its
// thresholds, so the same items always produce the same bill.
type BillingCalculator struct {
	// FreeDeliveryAbove is the subtotal that must be exceeded for free delivery.
	FreeDeliveryAbove decimal.Decimal
	// DeliveryFee is charged when the subtotal is at or below FreeDeliveryAbove.
	DeliveryFee decimal.Decimal
}

// NewBillingCalculator returns a calculator using the given thresholds. Zero values fall back to a
// 1000 threshold and a 200 fee.
func NewBillingCalculator(freeDeliveryAbove, deliveryFee decimal.Decimal) BillingCalculator {
	if freeDeliveryAbove.IsZero() {
		freeDeliveryAbove = defaultFreeDeliveryAbove
	}
	if deliveryFee.IsZero() {
		deliveryFee = defaultDeliveryFee
	}
	return BillingCalculator{FreeDeliveryAbove: freeDeliveryAbove, DeliveryFee: deliveryFee}
}

// Calculate sums price snapshots times quantities and applies the delivery fee rule.
func (c BillingCalculator) Calculate(items []OrderItem) Bill {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal())
	}
	fee := c.DeliveryFee
	if subtotal.GreaterThan(c.FreeDeliveryAbove) {
		fee = decimal.Zero
	}
	return Bill{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		FinalAmount: subtotal.Add(fee),
	}
}

// RecomputeTotals returns order with its amounts replaced by a fresh calculation.
func (c BillingCalculator) RecomputeTotals(order Order) Order {
	bill := c.Calculate(order.Items)
	order.TotalAmount = &bill.Subtotal
	order.DeliveryFee = &bill.DeliveryFee
	order.FinalAmount = &bill.FinalAmount
	return order
}
