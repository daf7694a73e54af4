package parser

import "time"

// ComputeDeadline measures windowDays calendar days from the anchor date,
// which is the delivery date when known and the order date otherwise. A nil
// result means the deadline is unknown.
func ComputeDeadline(orderDate, deliveryDate *time.Time, windowDays int) *time.Time {
	anchor := deliveryDate
	if anchor == nil {
		anchor = orderDate
	}
	if anchor == nil {
		return nil
	}
	deadline := DateOf(*anchor).AddDate(0, 0, windowDays)
	return &deadline
}
