// Package money converts store amounts into the unit each gateway expects.
//
// The store keeps prices in the major unit (toman). Token gateways take the
// minor unit (rial), which is always major × 10.
package money

import (
	"github.com/shopspring/decimal"
)

type Currency int

const (
	Major Currency = iota
	Minor
)

const minorPerMajor = 10

func (c Currency) String() string {
	if c == Minor {
		return "minor"
	}
	return "major"
}

// ToMinor converts a major-unit amount to the minor unit.
func ToMinor(major int64) int64 {
	return major * minorPerMajor
}

// ToMajor converts a minor-unit amount to the major unit, truncating.
func ToMajor(minor int64) int64 {
	return minor / minorPerMajor
}

// Scale returns a major-unit amount in the requested currency.
func Scale(major int64, c Currency) int64 {
	if c == Minor {
		return ToMinor(major)
	}
	return major
}

// Round returns the nearest whole major-unit amount.
func Round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// WalletDeduction is how much of the wallet balance an order consumes.
func WalletDeduction(total decimal.Decimal, useWallet bool, balance decimal.Decimal) decimal.Decimal {
	if !useWallet || balance.Sign() <= 0 {
		return decimal.Zero
	}
	if balance.GreaterThanOrEqual(total) {
		return total
	}
	return balance
}

// PayableAmount is what the gateway must charge for an order, in currency c.
// It must be computed fresh for every gateway request since the wallet
// balance can change between attempts.
func PayableAmount(total decimal.Decimal, useWallet bool, balance decimal.Decimal, c Currency) int64 {
	payable := total.Sub(WalletDeduction(total, useWallet, balance))
	if payable.Sign() < 0 {
		payable = decimal.Zero
	}
	return Scale(Round(payable), c)
}

// AuthorizedDeduction is the wallet share implied by an amount the gateway
// already authorized in currency c. It is the rounded total minus the
// authorized amount, kept within [0, total].
func AuthorizedDeduction(total decimal.Decimal, useWallet bool, authorized int64, c Currency) decimal.Decimal {
	if !useWallet {
		return decimal.Zero
	}
	charged := authorized
	if c == Minor {
		charged = ToMajor(authorized)
	}
	used := decimal.NewFromInt(Round(total) - charged)
	if used.Sign() <= 0 {
		return decimal.Zero
	}
	if used.GreaterThan(total) {
		return total
	}
	return used
}
