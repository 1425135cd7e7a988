// Package iap implements a platform-independent in-app purchase
// orchestration layer on top of a per-platform billing bridge: catalog
// queries, purchase flows, acknowledge/consume, restores, and a multicast
// purchase-update stream.
package iap

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openiap/openiap/bridge"
	"github.com/openiap/openiap/event"
)

const (
	// productCacheTTL bounds how long queried catalog entries stay valid
	// for purchase and consume validation before a re-query is required.
	productCacheTTL = time.Hour

	// updatesBufferSize is the per-subscriber purchase event buffer. A
	// subscriber that falls further behind is disconnected.
	updatesBufferSize = 64
)

// purchaseOutcome is the one-shot completion value for a pending
// PurchaseProduct call. Exactly one field is set.
type purchaseOutcome struct {
	purchase Purchase
	err      error
}

// Manager sequences billing operations against a single platform bridge
// and owns the purchase-update stream for its lifetime. It is safe for
// concurrent use; platform callbacks may arrive on any goroutine.
type Manager struct {
	log    *zap.Logger
	bridge bridge.PlatformBridge

	// products caches catalog entries between GetProducts and
	// purchase/consume validation, mirroring the platform SDK requirement
	// to query details before purchasing.
	products *ttlcache.Cache

	updates *event.Broadcaster[PurchaseEvent]

	mu           sync.Mutex
	initialized  bool
	disconnected bool
	pending      map[string]chan purchaseOutcome
}

// NewManager creates a manager over the given platform bridge. A nil
// bridge is a wiring defect, not a business failure, and panics.
func NewManager(log *zap.Logger, platformBridge bridge.PlatformBridge) *Manager {
	if platformBridge == nil {
		panic("iap: nil platform bridge")
	}

	products := ttlcache.NewCache()
	products.SetTTL(productCacheTTL)

	return &Manager{
		log:      log,
		bridge:   platformBridge,
		products: products,
		updates:  event.NewBroadcaster[PurchaseEvent](log, updatesBufferSize),
		pending:  make(map[string]chan purchaseOutcome),
	}
}

// Initialize connects to the platform billing SDK and registers the
// manager for purchase notifications. Idempotent once connected; every
// other operation fails with ErrNotInitialized until it succeeds.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return ErrDisconnected
	}
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.bridge.SetListener(m)

	if err := m.bridge.Initialize(ctx); err != nil {
		m.log.Warn("Billing initialization failed", zap.Error(err))
		m.bridge.SetListener(nil)
		return translateErr(err)
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	m.log.Debug("Billing initialized")

	return nil
}

func (m *Manager) checkReady() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnected {
		return ErrDisconnected
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// GetProducts resolves catalog entries for the given ids, returned in
// input-id order without duplicates. Ids the platform does not know are
// omitted from the result, never an error by themselves; an empty or
// blank id set is an error.
func (m *Manager) GetProducts(ctx context.Context, productIDs []string) ([]Product, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}
	if len(productIDs) == 0 {
		return nil, NewError("no product ids requested")
	}

	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if id == "" {
			return nil, NewError("blank product id requested")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	found, invalidIDs, err := m.bridge.QueryProducts(ctx, ids)
	if err != nil {
		m.log.Warn("Product query failed", zap.Error(err))
		return nil, translateErr(err)
	}
	if len(invalidIDs) > 0 {
		m.log.Debug("Some product ids are unknown to the platform",
			zap.Strings("invalid_ids", invalidIDs),
		)
	}

	products := make([]Product, 0, len(found))
	for _, id := range ids {
		raw, ok := found[id]
		if !ok {
			continue
		}

		product, err := productFromRaw(raw)
		if err != nil {
			m.log.Warn("Platform returned a malformed product record", zap.Error(err))
			return nil, translateErr(err)
		}

		m.products.Set(product.ID, product)
		products = append(products, product)
	}

	return products, nil
}

func (m *Manager) cachedProduct(productID string) (Product, bool) {
	cached, ok := m.products.Get(productID)
	if !ok {
		return Product{}, false
	}
	return cached.(Product), true
}

// PurchaseProduct launches the platform purchase flow for productID and
// waits for the matching transaction notification. At most one call per
// product id may be in flight; a concurrent second call fails fast with
// ErrPurchaseInProgress instead of opening a duplicate purchase dialog.
// The product must have been returned by a prior GetProducts call.
//
// Cancelling ctx abandons the wait but cannot retract a purchase dialog
// the platform already presented; if the user completes it afterwards,
// the transaction is delivered on the purchase-update stream only.
func (m *Manager) PurchaseProduct(ctx context.Context, productID string) (Purchase, error) {
	if err := m.checkReady(); err != nil {
		return Purchase{}, err
	}
	if productID == "" {
		return Purchase{}, NewError("blank product id")
	}
	if _, ok := m.cachedProduct(productID); !ok {
		return Purchase{}, NewError(fmt.Sprintf("unknown product %q: query products before purchasing", productID))
	}

	waiter := make(chan purchaseOutcome, 1)

	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return Purchase{}, ErrDisconnected
	}
	if _, inFlight := m.pending[productID]; inFlight {
		m.mu.Unlock()
		return Purchase{}, ErrPurchaseInProgress
	}
	m.pending[productID] = waiter
	m.mu.Unlock()

	log := m.log.With(zap.String("product_id", productID))
	log.Debug("Launching purchase flow")

	if err := m.bridge.LaunchPurchase(ctx, productID); err != nil {
		m.abandonPending(productID, waiter)
		log.Warn("Failed to launch purchase flow", zap.Error(err))
		return Purchase{}, translateErr(err)
	}

	select {
	case outcome := <-waiter:
		if outcome.err != nil {
			log.Debug("Purchase failed", zap.Error(outcome.err))
			return Purchase{}, outcome.err
		}
		log.Debug("Purchase completed", zap.String("order_id", outcome.purchase.OrderID))
		return outcome.purchase, nil

	case <-ctx.Done():
		m.abandonPending(productID, waiter)
		return Purchase{}, translateErr(ctx.Err())
	}
}

// abandonPending removes the waiter if it is still the registered one for
// the product; a successor registered after resolution stays untouched.
func (m *Manager) abandonPending(productID string, waiter chan purchaseOutcome) {
	m.mu.Lock()
	if m.pending[productID] == waiter {
		delete(m.pending, productID)
	}
	m.mu.Unlock()
}

// resolvePending completes the pending purchase call for the product, if
// any. The waiter channel is buffered so a caller that raced away on
// cancellation can never block the platform callback goroutine.
func (m *Manager) resolvePending(productID string, outcome purchaseOutcome) {
	m.mu.Lock()
	waiter, ok := m.pending[productID]
	if ok {
		delete(m.pending, productID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	select {
	case waiter <- outcome:
	default:
	}
}

// GetPurchases returns the account's current unconsumed purchases, ordered
// by purchase time and then product id.
func (m *Manager) GetPurchases(ctx context.Context) ([]Purchase, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	raw, err := m.bridge.QueryPurchases(ctx)
	if err != nil {
		m.log.Warn("Purchase query failed", zap.Error(err))
		return nil, translateErr(err)
	}

	return sortedPurchases(raw), nil
}

// RestorePurchases re-syncs prior transactions from the store, ordered by
// purchase time and then product id. An empty result is a valid success.
// The platform bridge additionally redelivers each restored transaction on
// the purchase-update stream.
func (m *Manager) RestorePurchases(ctx context.Context) ([]Purchase, error) {
	if err := m.checkReady(); err != nil {
		return nil, err
	}

	raw, err := m.bridge.RestorePurchases(ctx)
	if err != nil {
		m.log.Warn("Purchase restore failed", zap.Error(err))
		return nil, translateErr(err)
	}

	m.log.Debug("Restored purchases", zap.Int("count", len(raw)))

	return sortedPurchases(raw), nil
}

func sortedPurchases(raw map[string]bridge.RawPurchase) []Purchase {
	purchases := make([]Purchase, 0, len(raw))
	for _, r := range raw {
		purchases = append(purchases, purchaseFromRaw(r))
	}

	sort.Slice(purchases, func(i, j int) bool {
		if purchases[i].PurchaseTime != purchases[j].PurchaseTime {
			return purchases[i].PurchaseTime < purchases[j].PurchaseTime
		}
		return purchases[i].ProductID < purchases[j].ProductID
	})

	return purchases
}

// AcknowledgePurchase marks a purchase as processed so the platform does
// not auto-refund it. Idempotent: acknowledging an already-acknowledged
// purchase succeeds as a no-op, because the platform may already have
// applied the state change.
func (m *Manager) AcknowledgePurchase(ctx context.Context, purchase Purchase) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if purchase.PurchaseToken == "" {
		return NewError("purchase has no token")
	}
	if purchase.IsAcknowledged {
		return nil
	}

	err := m.bridge.AcknowledgePurchase(ctx, purchase.PurchaseToken)
	if errors.Is(err, bridge.ErrAlreadyAcknowledged) {
		return nil
	}
	if err != nil {
		m.log.Warn("Failed to acknowledge purchase",
			zap.String("product_id", purchase.ProductID),
			zap.Error(err),
		)
		return translateErr(err)
	}

	return nil
}

// ConsumePurchase marks a consumable purchase as used, enabling
// repurchase. Idempotent for an already-consumed token.
func (m *Manager) ConsumePurchase(ctx context.Context, purchase Purchase) error {
	if err := m.checkReady(); err != nil {
		return err
	}
	if purchase.PurchaseToken == "" {
		return NewError("purchase has no token")
	}
	if product, ok := m.cachedProduct(purchase.ProductID); ok && product.Type != ProductTypeConsumable {
		return NewError(fmt.Sprintf("product %q is not consumable", purchase.ProductID))
	}

	err := m.bridge.ConsumePurchase(ctx, purchase.PurchaseToken)
	if errors.Is(err, bridge.ErrAlreadyConsumed) {
		return nil
	}
	if err != nil {
		m.log.Warn("Failed to consume purchase",
			zap.String("product_id", purchase.ProductID),
			zap.Error(err),
		)
		return translateErr(err)
	}

	return nil
}

// Disconnect tears the manager down: pending purchase calls resolve with
// ErrDisconnected, every purchase-update subscription terminates, and the
// platform listener is deregistered so a late callback cannot resurrect
// delivery. Idempotent, best effort.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return
	}
	m.disconnected = true
	m.initialized = false
	pending := m.pending
	m.pending = make(map[string]chan purchaseOutcome)
	m.mu.Unlock()

	for _, waiter := range pending {
		select {
		case waiter <- purchaseOutcome{err: ErrDisconnected}:
		default:
		}
	}

	m.updates.Close()
	m.bridge.Disconnect()
	m.products.Purge()

	m.log.Debug("Billing disconnected")
}
