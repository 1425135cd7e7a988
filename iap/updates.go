package iap

import (
	"go.uber.org/zap"

	"github.com/openiap/openiap/bridge"
	"github.com/openiap/openiap/event"
)

// PurchaseEvent is a notification on the purchase-update stream: either a
// completed/restored transaction or a per-transaction failure. A failure
// event never terminates the stream.
type PurchaseEvent interface {
	isPurchaseEvent()
}

// PurchaseUpdated reports a completed or restored transaction.
type PurchaseUpdated struct {
	Purchase Purchase
}

// PurchaseFailed reports a failed transaction.
type PurchaseFailed struct {
	ProductID string
	Err       *Error
}

func (*PurchaseUpdated) isPurchaseEvent() {}
func (*PurchaseFailed) isPurchaseEvent()  {}

// The manager is the bridge's permanently-registered delegate while
// connected; callbacks both complete pending purchase calls and feed the
// stream.
var _ bridge.Listener = (*Manager)(nil)

// GetPurchaseUpdates subscribes to the multicast purchase-update stream.
// Subscribing never fails and is valid at any lifecycle point; after
// Disconnect the returned subscription is already terminated. Every live
// subscriber receives every event, in platform delivery order; a slow
// subscriber is disconnected once it falls updatesBufferSize events
// behind. Cancel the subscription to stop delivery to that subscriber
// only.
func (m *Manager) GetPurchaseUpdates() *event.Subscription[PurchaseEvent] {
	return m.updates.Subscribe()
}

// OnPurchaseUpdate implements bridge.Listener. It resolves the pending
// PurchaseProduct call for the product, if any, and broadcasts the
// transaction to all subscribers.
func (m *Manager) OnPurchaseUpdate(productID, purchaseToken, orderID string, purchaseTime int64) {
	purchase := Purchase{
		ProductID:     productID,
		PurchaseToken: purchaseToken,
		OrderID:       orderID,
		PurchaseTime:  purchaseTime,
	}

	m.log.Debug("Purchase update received",
		zap.String("product_id", productID),
		zap.String("order_id", orderID),
	)

	m.resolvePending(productID, purchaseOutcome{purchase: purchase})
	m.updates.Publish(&PurchaseUpdated{Purchase: purchase})
}

// OnPurchaseError implements bridge.Listener.
func (m *Manager) OnPurchaseError(productID string, err *bridge.Error) {
	if err == nil {
		// Bridges always report a cause; keep the event contract anyway.
		err = bridge.NewError("purchase failed")
	}
	translated := translateErr(err)

	m.log.Debug("Purchase error received",
		zap.String("product_id", productID),
		zap.Error(translated),
	)

	m.resolvePending(productID, purchaseOutcome{err: translated})
	m.updates.Publish(&PurchaseFailed{ProductID: productID, Err: translated})
}
