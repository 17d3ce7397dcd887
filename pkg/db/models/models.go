package models

// All lists every persisted model, in foreign key order, for test schemas.
func All() []any {
	return []any{
		&User{},
		&Listing{},
		&Order{},
		&Payment{},
		&Delivery{},
		&DeliveryFile{},
		&ChatMessage{},
		&DigitalDownload{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
