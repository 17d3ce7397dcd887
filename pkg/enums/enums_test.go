package enums

import "testing"

func TestOrderStatusTerminalAndChat(t *testing.T) {
	for _, status := range OrderStatuses() {
		terminal := status == OrderStatusCompleted || status == OrderStatusCancelled
		if status.IsTerminal() != terminal {
			t.Fatalf("%s: expected terminal=%v", status, terminal)
		}
		if status.ChatEnabled() == terminal {
			t.Fatalf("%s: chat enabled must be the inverse of terminal", status)
		}
		if status.Label() == string(status) {
			t.Fatalf("%s: expected a human label", status)
		}
	}
	if OrderStatus("bogus").ChatEnabled() {
		t.Fatal("unknown statuses never enable chat")
	}
}

func TestParseOrderStatus(t *testing.T) {
	got, err := ParseOrderStatus("in_progress")
	if err != nil || got != OrderStatusInProgress {
		t.Fatalf("expected in_progress, got %q err=%v", got, err)
	}
	if _, err := ParseOrderStatus("In Progress"); err == nil {
		t.Fatal("expected labels to be rejected as status values")
	}
}

func TestParseListingType(t *testing.T) {
	if _, err := ParseListingType("digital_product"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseListingType("physical"); err == nil {
		t.Fatal("expected unknown listing type to fail")
	}
}

func TestParseMessageType(t *testing.T) {
	for _, raw := range []string{"text", "file", "delivery_notice"} {
		if _, err := ParseMessageType(raw); err != nil {
			t.Fatalf("%s: unexpected error %v", raw, err)
		}
	}
}

func TestOutboxEventTypesAreValid(t *testing.T) {
	for _, e := range validOutboxEventTypes {
		if !e.IsValid() {
			t.Fatalf("%s should be valid", e)
		}
	}
	if OutboxEventType("order.teleported").IsValid() {
		t.Fatal("unexpected valid event type")
	}
}
