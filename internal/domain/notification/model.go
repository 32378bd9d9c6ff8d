package notification

import (
	"context"
	"strings"

	"shiptrack/internal/domain/shipment"
)

type Type string

const (
	TypePending        Type = "pending"
	TypeShipped        Type = "shipped"
	TypeOutForDelivery Type = "out_for_delivery"
	TypeDelivered      Type = "delivered"
	TypeException      Type = "exception"
)

const (
	WorkflowOpsAlert    = "shipment-ops-alert"
	CollectionShipments = "shipments"
)

// Workflow is the provider workflow that delivers a notification type.
func (t Type) Workflow() string {
	return "shipment-" + strings.ReplaceAll(string(t), "_", "-")
}

// TriggerOptions controls delivery semantics of a trigger. IdempotencyKey
// makes replays of the same logical trigger collapse into one notification;
// CancellationKey lets a later trigger supersede a pending one.
type TriggerOptions struct {
	IdempotencyKey  string
	CancellationKey string
	Tenant          string
	Actor           string
}

// Result is returned instead of an error so that one downstream failure
// never prevents the next step on the same event.
type Result struct {
	Success       bool
	Skipped       bool
	WorkflowRunID string
	Err           error
}

func Failed(err error) Result {
	return Result{Err: err}
}

type Service interface {
	TriggerForObject(ctx context.Context, workflow, collection, objectID string, data map[string]any, opts TriggerOptions) Result
	TriggerForUsers(ctx context.Context, workflow string, userIDs []string, data map[string]any, opts TriggerOptions) Result
	CancelWorkflow(ctx context.Context, workflow, cancellationKey string) Result
}

// ForTransition maps a status transition to the customer notification it
// should produce. The bool is false when the transition is silent.
func ForTransition(from, to shipment.Status) (Type, bool) {
	switch to {
	case shipment.StatusInTransit:
		if from == shipment.StatusPending {
			return TypeShipped, true
		}
	case shipment.StatusOutForDelivery:
		return TypeOutForDelivery, true
	case shipment.StatusDelivered:
		return TypeDelivered, true
	case shipment.StatusException:
		return TypeException, true
	}
	return "", false
}

// ForCurrentStatus maps a shipment's present status to the most relevant
// notification for a catch-up send.
func ForCurrentStatus(s shipment.Status) Type {
	switch s {
	case shipment.StatusException:
		return TypeException
	case shipment.StatusDelivered:
		return TypeDelivered
	case shipment.StatusOutForDelivery, shipment.StatusFailedAttempt:
		return TypeOutForDelivery
	case shipment.StatusInTransit:
		return TypeShipped
	default:
		return TypePending
	}
}

// Priority orders notification types by relevance, highest first.
func Priority(t Type) int {
	switch t {
	case TypeException:
		return 5
	case TypeDelivered:
		return 4
	case TypeOutForDelivery:
		return 3
	case TypeShipped:
		return 2
	case TypePending:
		return 1
	}
	return 0
}

// Supersedes lists the notification types a newer trigger of type t
// should cancel if they are still pending.
func Supersedes(t Type) []Type {
	switch t {
	case TypeDelivered:
		return []Type{TypeShipped, TypeOutForDelivery}
	case TypeException:
		return []Type{TypeOutForDelivery}
	case TypeOutForDelivery:
		return []Type{TypeShipped}
	}
	return nil
}
