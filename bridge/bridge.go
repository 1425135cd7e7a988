// Package bridge defines the contract every platform billing integration
// (StoreKit, Play Billing, or a simulated store) provides to the purchase
// orchestration core.
package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Sentinels a platform bridge returns when the store has already applied a
// requested state change. The manager treats both as success.
var (
	ErrAlreadyAcknowledged = errors.New("purchase is already acknowledged")
	ErrAlreadyConsumed     = errors.New("purchase is already consumed")
)

// Error is a failure reported by the underlying billing SDK. Code, when
// present, is the SDK's native response code; the core carries it through
// unchanged for programmatic handling by applications.
type Error struct {
	Message string
	Code    *int32
}

func NewError(message string) *Error {
	return &Error{Message: message}
}

func NewErrorWithCode(message string, code int32) *Error {
	return &Error{Message: message, Code: &code}
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d)", e.Message, *e.Code)
	}
	return e.Message
}

// Product type strings platform bridges report in RawProduct.Type.
const (
	TypeConsumable    = "consumable"
	TypeNonConsumable = "non_consumable"
	TypeSubscription  = "subscription"
)

// RawProduct is a catalog entry exactly as the platform reported it.
// PriceAmount is the exact decimal price in major currency units
// (e.g. "4.99"); DisplayPrice is the locale-formatted string shown to
// users.
type RawProduct struct {
	ID                string
	Title             string
	Description       string
	DisplayPrice      string
	PriceAmount       string
	PriceCurrencyCode string
	Type              string
}

// RawPurchase is a transaction record exactly as the platform reported it.
type RawPurchase struct {
	ProductID     string
	PurchaseToken string
	OrderID       string
	PurchaseTime  int64 // epoch millis
	Acknowledged  bool
}

// Listener receives asynchronous transaction notifications. Callbacks may
// arrive on any goroutine, typically one the integration does not control,
// and must return promptly.
type Listener interface {
	// OnPurchaseUpdate fires once per completed or restored transaction.
	OnPurchaseUpdate(productID, purchaseToken, orderID string, purchaseTime int64)

	// OnPurchaseError fires once per failed transaction.
	OnPurchaseError(productID string, err *Error)
}

// PlatformBridge is the narrow contract each platform billing integration
// implements. Implementations tolerate concurrent calls for independent
// operations; same-product purchase serialization is the manager's job.
type PlatformBridge interface {
	// SetListener registers the delegate for asynchronous purchase
	// notifications, replacing any previous one. Nil stops delivery.
	SetListener(l Listener)

	Initialize(ctx context.Context) error

	// QueryProducts resolves catalog entries for the given ids. Ids the
	// store does not know are reported in invalidIDs, not as an error.
	QueryProducts(ctx context.Context, productIDs []string) (found map[string]RawProduct, invalidIDs []string, err error)

	// LaunchPurchase starts the platform purchase flow. A nil return means
	// only that the flow was launched; the transaction outcome arrives
	// through the Listener.
	LaunchPurchase(ctx context.Context, productID string) error

	// QueryPurchases returns the account's current owned, unconsumed
	// purchases keyed by product id.
	QueryPurchases(ctx context.Context) (map[string]RawPurchase, error)

	// RestorePurchases re-syncs prior transactions from the store, keyed by
	// product id. Each restored transaction is also redelivered through the
	// Listener, matching store observer behavior.
	RestorePurchases(ctx context.Context) (map[string]RawPurchase, error)

	// AcknowledgePurchase marks a purchase as processed so the store does
	// not auto-refund it. Returns ErrAlreadyAcknowledged when the store
	// already applied it.
	AcknowledgePurchase(ctx context.Context, purchaseToken string) error

	// ConsumePurchase marks a consumable purchase as used, enabling
	// repurchase. Returns ErrAlreadyConsumed when the store already
	// applied it.
	ConsumePurchase(ctx context.Context, purchaseToken string) error

	// Disconnect tears down the SDK connection and drops the listener.
	// Best effort.
	Disconnect()
}
