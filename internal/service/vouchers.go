package service

import (
	"sort"

	"github.com/shopspring/decimal"
)

// voucherCandidate is a line item that can be paid with vouchers.
type voucherCandidate struct {
	Line            int
	ProductID       int64
	PricePerVoucher decimal.Decimal
	PriceInVouchers int64
	Quantity        int64
}

// voucherUse is the number of vouchers spent on one line item.
type voucherUse struct {
	Line            int
	Vouchers        int64
	PricePerVoucher decimal.Decimal
}

// optimizeVouchers spends up to max vouchers for the largest discount.
// Lines with a higher value per voucher are served first; equal values are
// served in ascending product id order.
func optimizeVouchers(candidates []voucherCandidate, max int64) []voucherUse {
	if max <= 0 || len(candidates) == 0 {
		return nil
	}
	sorted := append([]voucherCandidate{}, candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].PricePerVoucher.Cmp(sorted[j].PricePerVoucher); c != 0 {
			return c > 0
		}
		return sorted[i].ProductID < sorted[j].ProductID
	})

	remaining := max
	var uses []voucherUse
	for _, c := range sorted {
		if remaining == 0 {
			break
		}
		if c.Quantity <= 0 || c.PriceInVouchers <= 0 || !c.PricePerVoucher.IsPositive() {
			continue
		}
		n := c.PriceInVouchers * c.Quantity
		if n > remaining {
			n = remaining
		}
		uses = append(uses, voucherUse{Line: c.Line, Vouchers: n, PricePerVoucher: c.PricePerVoucher})
		remaining -= n
	}
	return uses
}
