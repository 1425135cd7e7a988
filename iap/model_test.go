package iap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openiap/openiap/bridge"
)

func TestParseProductType(t *testing.T) {
	for raw, expected := range map[string]ProductType{
		bridge.TypeConsumable:    ProductTypeConsumable,
		bridge.TypeNonConsumable: ProductTypeNonConsumable,
		bridge.TypeSubscription:  ProductTypeSubscription,
	} {
		parsed, err := ParseProductType(raw)
		require.NoError(t, err)
		require.Equal(t, expected, parsed)
		require.Equal(t, raw, parsed.String())
	}

	_, err := ParseProductType("inapp")
	require.Error(t, err)
	require.Equal(t, "unknown", ProductTypeUnknown.String())
}

func TestProductFromRaw(t *testing.T) {
	raw := bridge.RawProduct{
		ID:                "sku_a",
		Title:             "Coins",
		Description:       "A pile of coins",
		DisplayPrice:      "$4.99",
		PriceAmount:       "4.99",
		PriceCurrencyCode: "USD",
		Type:              bridge.TypeConsumable,
	}

	product, err := productFromRaw(raw)
	require.NoError(t, err)
	require.Equal(t, "$4.99", product.Price)
	require.Equal(t, int64(4990000), product.PriceAmountMicros)
	require.Equal(t, ProductTypeConsumable, product.Type)
}

func TestProductFromRaw_ExactMicros(t *testing.T) {
	// Amounts that lose precision through float64 must still convert
	// exactly.
	for amount, micros := range map[string]int64{
		"0.1":     100000,
		"0.29":    290000,
		"1999.99": 1999990000,
		"0":       0,
	} {
		product, err := productFromRaw(bridge.RawProduct{
			ID:          "sku",
			PriceAmount: amount,
			Type:        bridge.TypeConsumable,
		})
		require.NoError(t, err)
		require.Equal(t, micros, product.PriceAmountMicros, "amount %s", amount)
	}
}

func TestProductFromRaw_Malformed(t *testing.T) {
	_, err := productFromRaw(bridge.RawProduct{ID: "sku", PriceAmount: "0.99", Type: "weird"})
	require.Error(t, err)

	_, err = productFromRaw(bridge.RawProduct{ID: "sku", PriceAmount: "not a number", Type: bridge.TypeConsumable})
	require.Error(t, err)

	_, err = productFromRaw(bridge.RawProduct{ID: "sku", PriceAmount: "-0.99", Type: bridge.TypeConsumable})
	require.Error(t, err)
}

func TestPurchaseTime(t *testing.T) {
	p := Purchase{PurchaseTime: 1700000000000}
	require.Equal(t, time.UnixMilli(1700000000000), p.Time())
}
