package model

// All lists every table owned by this service, in migration order.
func All() []interface{} {
	return []interface{}{
		&Content{},
		&PointBalance{},
		&PointTransaction{},
		&CheckoutOrder{},
		&CheckoutSession{},
		&PurchaseRecord{},
		&ProcessorEvent{},
		&LedgerDiscrepancy{},
		&OutboxMessage{},
	}
}
