package dto

import "github.com/shopspring/decimal"

type NewCashRegisterRequest struct {
	Name string `json:"name" validate:"required,min=1"`
}

type NewStockingRequest struct {
	Name           string          `json:"name" validate:"required,min=1"`
	Euro200        int64           `json:"euro200" validate:"min=0"`
	Euro100        int64           `json:"euro100" validate:"min=0"`
	Euro50         int64           `json:"euro50" validate:"min=0"`
	Euro20         int64           `json:"euro20" validate:"min=0"`
	Euro10         int64           `json:"euro10" validate:"min=0"`
	Euro5          int64           `json:"euro5" validate:"min=0"`
	Euro2          int64           `json:"euro2" validate:"min=0"`
	Euro1          int64           `json:"euro1" validate:"min=0"`
	Cent50         int64           `json:"cent50" validate:"min=0"`
	Cent20         int64           `json:"cent20" validate:"min=0"`
	Cent10         int64           `json:"cent10" validate:"min=0"`
	Cent5          int64           `json:"cent5" validate:"min=0"`
	Cent2          int64           `json:"cent2" validate:"min=0"`
	Cent1          int64           `json:"cent1" validate:"min=0"`
	VariableInEuro decimal.Decimal `json:"variable_in_euro" validate:"min=0"`
}

type StockUpRequest struct {
	CashierTag     UserTagScan `json:"cashier_tag" validate:"required"`
	CashRegisterID int64       `json:"cash_register_id" validate:"required,min=1"`
	StockingID     *int64      `json:"cash_register_stocking_id"`
}

type TransferRegisterRequest struct {
	SourceCashierTag UserTagScan `json:"source_cashier_tag" validate:"required"`
	TargetCashierTag UserTagScan `json:"target_cashier_tag" validate:"required"`
}

type AdminTransferRegisterRequest struct {
	SourceCashierID int64 `json:"source_cashier_id" validate:"required,min=1"`
	TargetCashierID int64 `json:"target_cashier_id" validate:"required,min=1"`
}

type ModifyBalanceRequest struct {
	Tag    UserTagScan     `json:"user_tag" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type CloseOutRequest struct {
	CashierID     int64           `json:"cashier_id" validate:"required,min=1"`
	ActualBalance decimal.Decimal `json:"actual_cash_drawer_balance" validate:"min=0"`
	Comment       string          `json:"comment"`
}

type CloseOutResult struct {
	CashierID       int64           `json:"cashier_id"`
	CashRegisterID  int64           `json:"cash_register_id"`
	ShiftID         int64           `json:"cashier_shift_id"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
	Imbalance       decimal.Decimal `json:"imbalance"`
}

type CashRegisterResponse struct {
	ID             int64           `json:"id"`
	NodeID         int64           `json:"node_id"`
	Name           string          `json:"name"`
	AccountID      int64           `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	CurrentCashier *int64          `json:"current_cashier_id"`
	CurrentTill    *int64          `json:"current_till_id"`
}
