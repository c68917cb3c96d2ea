package game

import (
	"math"
	"math/rand"

	"stockvolley/config"
)

// NextPrice computes a stock's price for the next volley from three forces:
//
//  1. Trading impact: net buy/sell flow this volley moves the price up to
//     8% of its current value, scaled by how lopsided the flow is.
//  2. Volatility: symmetric random noise up to ±3% of the current price,
//     drawn from rng.
//  3. Mean reversion: 15% of the gap to the historical reference is pulled
//     back each volley, bounding runaway drift.
//
// The result is floored at one cent so cost and valuation math never sees
// a non-positive price. With no trades in the volley the trading impact is
// exactly zero.
func NextPrice(rng *rand.Rand, oldPrice, historicalReference float64, buyVolume, sellVolume int64) float64 {
	netVolume := float64(buyVolume - sellVolume)
	totalVolume := math.Max(1, float64(buyVolume+sellVolume))
	volumeRatio := netVolume / totalVolume
	tradeImpact := volumeRatio * config.TradeImpactFactor * oldPrice

	volatility := (rng.Float64() - 0.5) * config.VolatilityFactor * oldPrice

	deviation := oldPrice - historicalReference
	reversion := -deviation * config.MeanReversionFactor

	newPrice := oldPrice + tradeImpact + volatility + reversion
	return math.Max(newPrice, config.PriceFloor)
}

// RoundToDecimal rounds a float to the given number of decimal places.
func RoundToDecimal(val float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
