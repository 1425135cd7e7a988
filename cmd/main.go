package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/openiap/openiap/bridge"
	"github.com/openiap/openiap/bridge/memory"
	"github.com/openiap/openiap/iap"
)

// Demo: runs a full purchase round-trip against the in-memory store
// bridge. Set IAP_DEMO_SKU to pick the product.
func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer logger.Sync()

	sku := os.Getenv("IAP_DEMO_SKU")
	if sku == "" {
		sku = "coins_100"
	}

	store := memory.NewBridge(
		bridge.RawProduct{
			ID:                "coins_100",
			Title:             "100 Coins",
			Description:       "A pile of 100 coins",
			DisplayPrice:      "$0.99",
			PriceAmount:       "0.99",
			PriceCurrencyCode: "USD",
			Type:              bridge.TypeConsumable,
		},
		bridge.RawProduct{
			ID:                "premium",
			Title:             "Premium Upgrade",
			Description:       "Unlocks all features",
			DisplayPrice:      "$4.99",
			PriceAmount:       "4.99",
			PriceCurrencyCode: "USD",
			Type:              bridge.TypeNonConsumable,
		},
	)
	store.SetAutoComplete(true)

	manager := iap.NewManager(logger, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := manager.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize billing", zap.Error(err))
	}

	sub := manager.GetPurchaseUpdates()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range sub.Events() {
			switch e := e.(type) {
			case *iap.PurchaseUpdated:
				logger.Info("Purchase update",
					zap.String("product_id", e.Purchase.ProductID),
					zap.String("order_id", e.Purchase.OrderID),
				)
			case *iap.PurchaseFailed:
				logger.Warn("Purchase failed",
					zap.String("product_id", e.ProductID),
					zap.Error(e.Err),
				)
			}
		}
	}()

	products, err := manager.GetProducts(ctx, []string{"coins_100", "premium", "missing_sku"})
	if err != nil {
		logger.Fatal("Failed to query products", zap.Error(err))
	}
	for _, p := range products {
		logger.Info("Product",
			zap.String("id", p.ID),
			zap.String("price", p.Price),
			zap.Int64("price_micros", p.PriceAmountMicros),
			zap.Stringer("type", p.Type),
		)
	}

	purchase, err := manager.PurchaseProduct(ctx, sku)
	if err != nil {
		logger.Fatal("Purchase failed", zap.Error(err))
	}
	logger.Info("Purchased",
		zap.String("product_id", purchase.ProductID),
		zap.String("token", purchase.PurchaseToken),
	)

	if err := manager.ConsumePurchase(ctx, purchase); err != nil {
		logger.Warn("Failed to consume purchase", zap.Error(err))
	}

	restored, err := manager.RestorePurchases(ctx)
	if err != nil {
		logger.Fatal("Restore failed", zap.Error(err))
	}
	logger.Info("Restored purchases", zap.Int("count", len(restored)))

	manager.Disconnect()
	<-done
}
