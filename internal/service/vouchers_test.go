package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestOptimizeVouchers_HighestValueFirst(t *testing.T) {
	cands := []voucherCandidate{
		{Line: 0, ProductID: 1, PricePerVoucher: decimal.RequireFromString("1.5"), PriceInVouchers: 1, Quantity: 2},
		{Line: 1, ProductID: 2, PricePerVoucher: decimal.RequireFromString("2.5"), PriceInVouchers: 1, Quantity: 2},
	}

	uses := optimizeVouchers(cands, 3)

	assert.Len(t, uses, 2)
	assert.Equal(t, 1, uses[0].Line)
	assert.Equal(t, int64(2), uses[0].Vouchers)
	assert.Equal(t, 0, uses[1].Line)
	assert.Equal(t, int64(1), uses[1].Vouchers)
}

func TestOptimizeVouchers_TiesByProductID(t *testing.T) {
	cands := []voucherCandidate{
		{Line: 0, ProductID: 9, PricePerVoucher: decimal.NewFromInt(2), PriceInVouchers: 1, Quantity: 1},
		{Line: 1, ProductID: 3, PricePerVoucher: decimal.NewFromInt(2), PriceInVouchers: 1, Quantity: 1},
	}

	uses := optimizeVouchers(cands, 1)

	assert.Len(t, uses, 1)
	assert.Equal(t, 1, uses[0].Line)
}

func TestOptimizeVouchers_CappedByQuantity(t *testing.T) {
	cands := []voucherCandidate{
		{Line: 0, ProductID: 1, PricePerVoucher: decimal.NewFromInt(1), PriceInVouchers: 2, Quantity: 1},
	}

	uses := optimizeVouchers(cands, 10)

	assert.Len(t, uses, 1)
	assert.Equal(t, int64(2), uses[0].Vouchers)
}

func TestOptimizeVouchers_NothingToSpend(t *testing.T) {
	cands := []voucherCandidate{
		{Line: 0, ProductID: 1, PricePerVoucher: decimal.NewFromInt(1), PriceInVouchers: 1, Quantity: 1},
	}
	assert.Empty(t, optimizeVouchers(cands, 0))
	assert.Empty(t, optimizeVouchers(nil, 5))
}
