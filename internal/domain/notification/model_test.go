package notification

import (
	"testing"

	"shiptrack/internal/domain/shipment"
)

func TestForTransition(t *testing.T) {
	tests := []struct {
		from, to shipment.Status
		want     Type
		ok       bool
	}{
		{shipment.StatusPending, shipment.StatusInTransit, TypeShipped, true},
		{shipment.StatusException, shipment.StatusInTransit, "", false},
		{shipment.StatusInTransit, shipment.StatusOutForDelivery, TypeOutForDelivery, true},
		{shipment.StatusFailedAttempt, shipment.StatusOutForDelivery, TypeOutForDelivery, true},
		{shipment.StatusOutForDelivery, shipment.StatusDelivered, TypeDelivered, true},
		{shipment.StatusInTransit, shipment.StatusException, TypeException, true},
		{shipment.StatusOutForDelivery, shipment.StatusFailedAttempt, "", false},
	}
	for _, tt := range tests {
		got, ok := ForTransition(tt.from, tt.to)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ForTransition(%s, %s) = %q, %v; want %q, %v", tt.from, tt.to, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPriorityOrdersCatchUpRelevance(t *testing.T) {
	order := []Type{TypeException, TypeDelivered, TypeOutForDelivery, TypeShipped, TypePending}
	for i := 1; i < len(order); i++ {
		if Priority(order[i-1]) <= Priority(order[i]) {
			t.Fatalf("expected %s to outrank %s", order[i-1], order[i])
		}
	}
}

func TestWorkflowName(t *testing.T) {
	if got := TypeOutForDelivery.Workflow(); got != "shipment-out-for-delivery" {
		t.Fatalf("unexpected workflow %q", got)
	}
}
