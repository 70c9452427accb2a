package tracker

import (
	"github.com/shopspring/decimal"
)

var (
	hundred      = decimal.NewFromInt(100)
	daysPerMonth = decimal.NewFromInt(30)
	one          = decimal.NewFromInt(1)
)

// Impact is the before/after delta of one measurement window
type Impact struct {
	Absolute decimal.Decimal
	Percent  decimal.Decimal
}

// CalculateImpact computes the absolute and percentage change from a
// baseline to a measured value. A zero baseline yields a zero percentage
// rather than a division error: the cause of a zero baseline is more
// likely missing data than a genuine zero starting point.
func CalculateImpact(baseline, measured decimal.Decimal) Impact {
	absolute := measured.Sub(baseline)
	percent := decimal.Zero
	if !baseline.IsZero() {
		percent = absolute.Div(baseline).Mul(hundred)
	}
	return Impact{Absolute: absolute, Percent: percent}
}

// ExtrapolateMonthly projects a window's absolute impact to an equivalent
// 30-day figure
func ExtrapolateMonthly(absolute decimal.Decimal, windowDays int) decimal.Decimal {
	if windowDays <= 0 {
		return decimal.Zero
	}
	return absolute.Div(decimal.NewFromInt(int64(windowDays))).Mul(daysPerMonth)
}

// PredictionError computes the relative error of the original estimate
// against the extrapolated monthly impact. A zero estimate yields zero
// error; there is no prediction to be wrong about.
func PredictionError(monthlyImpact, estimatedImpact decimal.Decimal) decimal.Decimal {
	if estimatedImpact.IsZero() {
		return decimal.Zero
	}
	return monthlyImpact.Sub(estimatedImpact).Div(estimatedImpact)
}

// PredictionAccuracy maps a prediction error to a [0,1] accuracy score.
// Clamped on both ends so the score is always representable as a
// fraction, however large the error.
func PredictionAccuracy(predictionError decimal.Decimal) decimal.Decimal {
	accuracy := one.Sub(predictionError.Abs())
	if accuracy.IsNegative() {
		return decimal.Zero
	}
	if accuracy.GreaterThan(one) {
		return one
	}
	return accuracy
}
