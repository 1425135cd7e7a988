package iap

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/openiap/openiap/bridge"
)

type ProductType uint8

const (
	ProductTypeUnknown ProductType = iota
	ProductTypeConsumable
	ProductTypeNonConsumable
	ProductTypeSubscription
)

func (t ProductType) String() string {
	switch t {
	case ProductTypeConsumable:
		return bridge.TypeConsumable
	case ProductTypeNonConsumable:
		return bridge.TypeNonConsumable
	case ProductTypeSubscription:
		return bridge.TypeSubscription
	default:
		return "unknown"
	}
}

// ParseProductType maps a platform-reported product type string onto the
// closed enumeration.
func ParseProductType(s string) (ProductType, error) {
	switch s {
	case bridge.TypeConsumable:
		return ProductTypeConsumable, nil
	case bridge.TypeNonConsumable:
		return ProductTypeNonConsumable, nil
	case bridge.TypeSubscription:
		return ProductTypeSubscription, nil
	default:
		return ProductTypeUnknown, errors.Errorf("unsupported product type %q", s)
	}
}

// Product is an immutable catalog entry. Price is the locale-formatted
// display string; PriceAmountMicros is the exact price in millionths of
// the currency unit and is never negative.
type Product struct {
	ID                string
	Title             string
	Description       string
	Price             string
	PriceCurrencyCode string
	PriceAmountMicros int64
	Type              ProductType
}

// Purchase is a snapshot of a completed or restored transaction. The
// manager never mutates a Purchase it handed out; a state change shows up
// as a fresh record.
type Purchase struct {
	ProductID      string
	PurchaseToken  string
	OrderID        string
	PurchaseTime   int64 // epoch millis
	IsAcknowledged bool
}

func (p Purchase) Time() time.Time {
	return time.UnixMilli(p.PurchaseTime)
}

// micros per currency unit, as a decimal exponent
const microsExp = 6

// productFromRaw builds a Product from a platform catalog record. The
// micros conversion goes through decimal arithmetic so currency amounts
// never round through a float.
func productFromRaw(raw bridge.RawProduct) (Product, error) {
	productType, err := ParseProductType(raw.Type)
	if err != nil {
		return Product{}, errors.Wrapf(err, "product %s", raw.ID)
	}

	amount, err := decimal.NewFromString(raw.PriceAmount)
	if err != nil {
		return Product{}, errors.Wrapf(err, "invalid price for product %s", raw.ID)
	}

	micros := amount.Shift(microsExp).IntPart()
	if micros < 0 {
		return Product{}, errors.Errorf("negative price %q for product %s", raw.PriceAmount, raw.ID)
	}

	return Product{
		ID:                raw.ID,
		Title:             raw.Title,
		Description:       raw.Description,
		Price:             raw.DisplayPrice,
		PriceCurrencyCode: raw.PriceCurrencyCode,
		PriceAmountMicros: micros,
		Type:              productType,
	}, nil
}

func purchaseFromRaw(raw bridge.RawPurchase) Purchase {
	return Purchase{
		ProductID:      raw.ProductID,
		PurchaseToken:  raw.PurchaseToken,
		OrderID:        raw.OrderID,
		PurchaseTime:   raw.PurchaseTime,
		IsAcknowledged: raw.Acknowledged,
	}
}
