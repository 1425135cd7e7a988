// Package memory provides an in-memory platform bridge simulating a
// store, for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/openiap/openiap/bridge"
)

// Response codes the simulated store reports, mirroring Play Billing.
// The orchestration core treats them as opaque.
const (
	CodeUserCanceled     int32 = 1
	CodeItemUnavailable  int32 = 4
	CodeDeveloperError   int32 = 5
	CodeItemAlreadyOwned int32 = 7
	CodeItemNotOwned     int32 = 8
)

const (
	autoCompleteDelay = 10 * time.Millisecond
	launchLogSize     = 16
)

// Bridge is a simulated platform billing SDK. Purchases launched in
// manual mode (the default) stay open until the caller drives
// CompletePurchase or FailPurchase; in auto-complete mode they complete
// on a background goroutine, like a real store's payment queue.
type Bridge struct {
	mu           sync.Mutex
	catalog      map[string]bridge.RawProduct
	listener     bridge.Listener
	connected    bool
	autoComplete bool

	owned        map[string]bridge.RawPurchase // by purchase token
	acknowledged map[string]bool               // by purchase token
	consumed     map[string]bool               // by purchase token

	launches chan string
}

var _ bridge.PlatformBridge = (*Bridge)(nil)

// NewBridge creates a bridge over the given catalog.
func NewBridge(catalog ...bridge.RawProduct) *Bridge {
	b := &Bridge{
		catalog:      make(map[string]bridge.RawProduct, len(catalog)),
		owned:        make(map[string]bridge.RawPurchase),
		acknowledged: make(map[string]bool),
		consumed:     make(map[string]bool),
		launches:     make(chan string, launchLogSize),
	}
	for _, p := range catalog {
		b.catalog[p.ID] = p
	}
	return b
}

// SetAutoComplete toggles background completion of launched purchases.
func (b *Bridge) SetAutoComplete(v bool) {
	b.mu.Lock()
	b.autoComplete = v
	b.mu.Unlock()
}

// Launches reports product ids whose purchase flow was launched, in
// order. Callers in manual mode wait on it before completing or failing
// the flow.
func (b *Bridge) Launches() <-chan string {
	return b.launches
}

func (b *Bridge) SetListener(l bridge.Listener) {
	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()
}

func (b *Bridge) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	return nil
}

func (b *Bridge) checkConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return bridge.NewErrorWithCode("billing service is not connected", CodeDeveloperError)
	}
	return nil
}

func (b *Bridge) QueryProducts(ctx context.Context, productIDs []string) (map[string]bridge.RawProduct, []string, error) {
	if err := b.checkConnected(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	found := make(map[string]bridge.RawProduct)
	var invalidIDs []string
	for _, id := range productIDs {
		if p, ok := b.catalog[id]; ok {
			found[id] = p
		} else {
			invalidIDs = append(invalidIDs, id)
		}
	}
	return found, invalidIDs, nil
}

func (b *Bridge) LaunchPurchase(ctx context.Context, productID string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	product, ok := b.catalog[productID]
	if !ok {
		b.mu.Unlock()
		return bridge.NewErrorWithCode("item unavailable: "+productID, CodeItemUnavailable)
	}
	if product.Type != bridge.TypeConsumable {
		for token, owned := range b.owned {
			if owned.ProductID == productID && !b.consumed[token] {
				b.mu.Unlock()
				return bridge.NewErrorWithCode("item already owned: "+productID, CodeItemAlreadyOwned)
			}
		}
	}
	auto := b.autoComplete
	b.mu.Unlock()

	select {
	case b.launches <- productID:
	default:
	}

	if auto {
		go func() {
			time.Sleep(autoCompleteDelay)
			b.CompletePurchase(productID)
		}()
	}
	return nil
}

// CompletePurchase finishes an open purchase flow the way the store
// would: it records ownership and fires the listener on the calling
// goroutine. Returns the recorded transaction.
func (b *Bridge) CompletePurchase(productID string) bridge.RawPurchase {
	raw := bridge.RawPurchase{
		ProductID:     productID,
		PurchaseToken: newPurchaseToken(),
		OrderID:       "order-" + uuid.NewString(),
		PurchaseTime:  time.Now().UnixMilli(),
	}

	b.mu.Lock()
	b.owned[raw.PurchaseToken] = raw
	listener := b.listener
	b.mu.Unlock()

	if listener != nil {
		listener.OnPurchaseUpdate(raw.ProductID, raw.PurchaseToken, raw.OrderID, raw.PurchaseTime)
	}
	return raw
}

// FailPurchase fails an open purchase flow with the given store code.
func (b *Bridge) FailPurchase(productID, message string, code *int32) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()

	if listener == nil {
		return
	}
	listener.OnPurchaseError(productID, &bridge.Error{Message: message, Code: code})
}

// Preload records an owned purchase without a purchase flow, for restore
// scenarios.
func (b *Bridge) Preload(raw bridge.RawPurchase) {
	b.mu.Lock()
	b.owned[raw.PurchaseToken] = raw
	if raw.Acknowledged {
		b.acknowledged[raw.PurchaseToken] = true
	}
	b.mu.Unlock()
}

func (b *Bridge) QueryPurchases(ctx context.Context) (map[string]bridge.RawPurchase, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.activePurchasesLocked(), nil
}

func (b *Bridge) activePurchasesLocked() map[string]bridge.RawPurchase {
	active := make(map[string]bridge.RawPurchase)
	for token, raw := range b.owned {
		if b.consumed[token] {
			continue
		}
		raw.Acknowledged = b.acknowledged[token]
		active[raw.ProductID] = raw
	}
	return active
}

func (b *Bridge) RestorePurchases(ctx context.Context) (map[string]bridge.RawPurchase, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	active := b.activePurchasesLocked()
	listener := b.listener
	b.mu.Unlock()

	// Stores redeliver restored transactions through the observer.
	if listener != nil {
		for _, raw := range active {
			listener.OnPurchaseUpdate(raw.ProductID, raw.PurchaseToken, raw.OrderID, raw.PurchaseTime)
		}
	}
	return active, nil
}

func (b *Bridge) AcknowledgePurchase(ctx context.Context, purchaseToken string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.owned[purchaseToken]; !ok || b.consumed[purchaseToken] {
		return bridge.NewErrorWithCode("unknown purchase token", CodeItemNotOwned)
	}
	if b.acknowledged[purchaseToken] {
		return bridge.ErrAlreadyAcknowledged
	}

	b.acknowledged[purchaseToken] = true
	return nil
}

func (b *Bridge) ConsumePurchase(ctx context.Context, purchaseToken string) error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	raw, ok := b.owned[purchaseToken]
	if !ok {
		return bridge.NewErrorWithCode("unknown purchase token", CodeItemNotOwned)
	}
	if b.consumed[purchaseToken] {
		return bridge.ErrAlreadyConsumed
	}
	if product, ok := b.catalog[raw.ProductID]; ok && product.Type != bridge.TypeConsumable {
		return bridge.NewErrorWithCode("product is not consumable: "+raw.ProductID, CodeDeveloperError)
	}

	b.consumed[purchaseToken] = true
	return nil
}

func (b *Bridge) Disconnect() {
	b.mu.Lock()
	b.connected = false
	b.listener = nil
	b.mu.Unlock()
}

func newPurchaseToken() string {
	id := uuid.New()
	return base58.Encode(id[:])
}
