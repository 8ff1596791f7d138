package oms

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/schema"
)

// RecoverResult summarizes what recovery rebuilt and what it could not
// settle automatically.
type RecoverResult struct {
	Restored   int
	Reconciled int
	Frozen     int
}

// Recover rebuilds the working order set after a restart. The ledger is the
// source of truth; each broker's open orders are compared against it and any
// record the two disagree on is frozen in needs_reconciliation rather than
// guessed at. Recover must run before the writer loop starts.
func (m *Manager) Recover(ctx context.Context) (RecoverResult, error) {
	var result RecoverResult

	open, err := m.ledger.OpenOrders(ctx)
	if err != nil {
		return result, errors.Wrap(err, "load open orders from ledger")
	}

	// Broker-side open order ids, keyed by broker name.
	brokerOpen := make(map[string]map[string]bool, len(m.brokers))
	for name, b := range m.brokers {
		ids, oerr := b.OpenOrders(ctx)
		if oerr != nil {
			// Without the broker view every one of its orders is suspect.
			logs.Errorf("list open orders at %s, err: %+v", name, oerr)
			continue
		}
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		brokerOpen[name] = set
	}

	for _, order := range open {
		if err := m.sm.Track(order); err != nil {
			return result, err
		}
		if order.BrokerOrderID != "" {
			ref := broker.OrderRef{Broker: order.Broker, BrokerOrderID: order.BrokerOrderID}
			if err := m.sm.Bind(order.ID, ref); err != nil {
				return result, err
			}
		}
		result.Restored++

		switch order.Status {
		case schema.OrderStatusSubmitted, schema.OrderStatusPartiallyFilled, schema.OrderStatusCancelling:
			set, ok := brokerOpen[order.Broker]
			if !ok {
				continue
			}
			if order.BrokerOrderID != "" && !set[order.BrokerOrderID] {
				// The ledger says working, the broker does not know it.
				frozen, terr := m.freeze(ctx, order)
				if terr != nil {
					return result, terr
				}
				if frozen {
					result.Frozen++
				}
			} else {
				if order.Status == schema.OrderStatusCancelling {
					// The restart interrupted a cancel; drive it to a
					// broker-confirmed settle.
					go m.confirmCancel(order)
				}
				result.Reconciled++
			}
		case schema.OrderStatusPendingValidation, schema.OrderStatusPendingSubmission:
			// Never reached a broker; safe to reject and let the caller
			// resubmit.
			m.reject(ctx, order.ID, schema.ReasonBrokerUnavailable,
				errors.New("order interrupted before submission"))
			result.Reconciled++
		}
	}

	logs.Infof("recovery restored %d orders, %d reconciled, %d frozen",
		result.Restored, result.Reconciled, result.Frozen)
	return result, nil
}

func (m *Manager) freeze(ctx context.Context, order schema.Order) (bool, error) {
	logs.Errorf("order %s working in ledger but unknown at %s, freezing for review",
		order.ID, order.Broker)
	frozen, err := m.sm.Transition(order.ID, schema.OrderStatusNeedsReconciliation, schema.ReasonNone)
	if err != nil {
		return false, err
	}
	if err := m.persistTransition(ctx, frozen, schema.EventOrderFrozen, order.Status, nil); err != nil {
		return false, err
	}
	return true, nil
}
