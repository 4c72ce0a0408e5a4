package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNegativeNetAmount = errors.New("fees exceed amount")

// FeeSchedule describes how platform and processor fees are carved out of a
// gross amount. Rates are fractions, e.g. 0.10 for 10%.
type FeeSchedule struct {
	PlatformRate   decimal.Decimal
	ProcessorRate  decimal.Decimal
	ProcessorFixed decimal.Decimal
}

// Fees is the result of applying a FeeSchedule to a gross amount.
type Fees struct {
	PlatformFee  Money
	ProcessorFee Money
	Net          Money
}

// ComputeFee splits amount into platform fee, processor fee and the net
// payable to the seller. net = amount - platformFee - processorFee.
func ComputeFee(amount Money, schedule FeeSchedule) (Fees, error) {
	if amount.IsNegative() {
		return Fees{}, fmt.Errorf("%w: negative gross amount", ErrInvalidAmount)
	}

	platform := amount.MulRate(schedule.PlatformRate)
	processor := amount.MulRate(schedule.ProcessorRate)
	if !schedule.ProcessorFixed.IsZero() {
		processor = New(processor.Amount().Add(schedule.ProcessorFixed), amount.Currency())
	}

	net, err := amount.Sub(platform)
	if err != nil {
		return Fees{}, err
	}
	net, err = net.Sub(processor)
	if err != nil {
		return Fees{}, err
	}
	if net.IsNegative() {
		return Fees{}, fmt.Errorf("%w: gross %s, fees %s + %s",
			ErrNegativeNetAmount, amount, platform, processor)
	}

	return Fees{PlatformFee: platform, ProcessorFee: processor, Net: net}, nil
}
