package domain

// TargetPrices derives take-profit and stop-loss trigger prices from PnL
// targets expressed in quote currency. The per-unit move needed to realize
// the target is target/quantity; for a long the take-profit sits above entry
// and the stop-loss below, for a short both are reversed.
func TargetPrices(entryPrice float64, side Side, tpUSDT, slUSDT, quantity float64) (tpPrice, slPrice float64) {
	if quantity == 0 {
		return entryPrice, entryPrice
	}
	tpMove := tpUSDT / quantity
	slMove := slUSDT / quantity
	if side == Long {
		return entryPrice + tpMove, entryPrice - slMove
	}
	return entryPrice - tpMove, entryPrice + slMove
}

// BlendedEntry returns the size-weighted average entry price after adding
// addQty units filled at addPrice to an existing baseQty at basePrice.
func BlendedEntry(baseQty, basePrice, addQty, addPrice float64) float64 {
	total := baseQty + addQty
	if total == 0 {
		return basePrice
	}
	return (baseQty*basePrice + addQty*addPrice) / total
}
