package liquidation

import "github.com/sawpanic/derivintel/internal/model"

// BinanceForceOrderSide converts Binance's forceOrder "S" field (the side
// of the liquidation order itself, not the position) to the position
// side that was liquidated: a forced SELL closes a long, a forced BUY
// closes a short. Bybit's liquidation feed uses the identical convention.
func BinanceForceOrderSide(orderSide string) model.Side {
	if orderSide == "BUY" {
		return model.SideShort
	}
	return model.SideLong
}

// BybitLiquidationSide is an alias of BinanceForceOrderSide: Bybit's
// v5 public liquidation stream reports the closing order's side using
// the same SELL-closes-long / BUY-closes-short convention.
func BybitLiquidationSide(orderSide string) model.Side {
	if orderSide == "Buy" {
		orderSide = "BUY"
	}
	return BinanceForceOrderSide(orderSide)
}

// HyperliquidLiquidationSide infers the liquidated side from the
// liquidator's counterparty role, since Hyperliquid's feed reports the
// liquidator vault's fill rather than a labeled liquidation side
// directly. When the vault is the buyer, it bought from a forced
// seller, i.e. a long was liquidated; when the vault is the seller, a
// short was liquidated. This is the only side-inference path Hyperliquid
// supports.
func HyperliquidLiquidationSide(vaultIsBuyer bool) model.Side {
	if vaultIsBuyer {
		return model.SideLong
	}
	return model.SideShort
}
