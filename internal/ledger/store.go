package ledger

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/schema"
	"main/pkg/exception"
)

// Store persists orders, trades and order events through gorm. It is the
// single source of truth for order state; in-memory views are rebuilt from
// it on startup.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the execution tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&schema.Order{},
		&schema.Trade{},
		&schema.OrderEvent{},
		&schema.BrokerAccount{},
	)
}

// SaveOrder journals a brand new order together with its creation event.
func (s *Store) SaveOrder(ctx context.Context, order schema.Order, event schema.OrderEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&order).Error; err != nil {
			return errors.Wrap(err, "insert order")
		}
		if err := tx.Create(&event).Error; err != nil {
			return errors.Wrap(err, "insert order event")
		}
		return nil
	})
}

// ApplyTransition writes the updated order, its transition event and the
// trade that caused it in one transaction, so a crash between them cannot
// leave the ledger half-written.
func (s *Store) ApplyTransition(ctx context.Context, order schema.Order, event schema.OrderEvent, trade *schema.Trade) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&schema.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{
				"status":          order.Status,
				"status_reason":   order.StatusReason,
				"broker":          order.Broker,
				"broker_order_id": order.BrokerOrderID,
				"filled_quantity": order.FilledQuantity,
				"avg_fill_price":  order.AvgFillPrice,
				"commission":      order.Commission,
				"last_fill_seq":   order.LastFillSeq,
				"updated_at":      order.UpdatedAt,
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update order")
		}
		if res.RowsAffected == 0 {
			return errors.Wrap(exception.ErrOrderNotFound, order.ID)
		}
		if err := tx.Create(&event).Error; err != nil {
			return errors.Wrap(err, "insert order event")
		}
		if trade != nil {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(trade).Error; err != nil {
				return errors.Wrap(err, "insert trade")
			}
		}
		return nil
	})
}

// Order loads one order by id.
func (s *Store) Order(ctx context.Context, id string) (schema.Order, error) {
	var order schema.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return schema.Order{}, errors.Wrap(exception.ErrOrderNotFound, id)
	}
	if err != nil {
		return schema.Order{}, errors.Wrap(err, "load order")
	}
	return order, nil
}

// OpenOrders lists every order that is not in a terminal state, for startup
// recovery.
func (s *Store) OpenOrders(ctx context.Context) ([]schema.Order, error) {
	var orders []schema.Order
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []schema.OrderStatus{
			schema.OrderStatusFilled,
			schema.OrderStatusCancelled,
			schema.OrderStatusRejected,
			schema.OrderStatusExpired,
			schema.OrderStatusNeedsReconciliation,
		}).
		Order("created_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "load open orders")
	}
	return orders, nil
}

// Trades lists the fills recorded for one order in application order.
func (s *Store) Trades(ctx context.Context, orderID string) ([]schema.Trade, error) {
	var trades []schema.Trade
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("seq asc").
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "load trades")
	}
	return trades, nil
}

// Events lists the transition history of one order.
func (s *Store) Events(ctx context.Context, orderID string) ([]schema.OrderEvent, error) {
	var events []schema.OrderEvent
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "load order events")
	}
	return events, nil
}

// TradesBetween lists trades for a symbol inside a window, oldest first.
// The TCA reporter uses it to compute interval benchmarks.
func (s *Store) TradesBetween(ctx context.Context, symbol string, from, to time.Time) ([]schema.Trade, error) {
	var trades []schema.Trade
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND executed_at >= ? AND executed_at < ?", symbol, from, to).
		Order("executed_at asc").
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "load trades in window")
	}
	return trades, nil
}

// ActiveAccounts lists enabled broker accounts.
func (s *Store) ActiveAccounts(ctx context.Context) ([]schema.BrokerAccount, error) {
	var accounts []schema.BrokerAccount
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Find(&accounts).Error
	if err != nil {
		return nil, errors.Wrap(err, "load broker accounts")
	}
	return accounts, nil
}
