package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType distinguishes system accounts, internal cash accounts and
// customer accounts.
type AccountType string

const (
	AccountPrivate          AccountType = "private"
	AccountInternal         AccountType = "internal"
	AccountSaleExit         AccountType = "sale_exit"
	AccountCashEntry        AccountType = "cash_entry"
	AccountCashExit         AccountType = "cash_exit"
	AccountCashTopupSource  AccountType = "cash_topup_source"
	AccountCashVault        AccountType = "cash_vault"
	AccountCashImbalance    AccountType = "cash_imbalance"
	AccountSumupEntry       AccountType = "sumup_entry"
	AccountSumupOnlineEntry AccountType = "sumup_online_entry"
	AccountDonationExit     AccountType = "donation_exit"
	AccountSepaExit         AccountType = "sepa_exit"
	AccountVoucherCreate    AccountType = "voucher_create"
)

// SystemAccountTypes must exist exactly once per event.
var SystemAccountTypes = []AccountType{
	AccountSaleExit,
	AccountCashEntry,
	AccountCashExit,
	AccountCashTopupSource,
	AccountCashVault,
	AccountCashImbalance,
	AccountSumupEntry,
	AccountSumupOnlineEntry,
	AccountDonationExit,
	AccountSepaExit,
	AccountVoucherCreate,
}

// Account is a ledger account. Balances change only through transactions.
type Account struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	NodeID        int64           `gorm:"not null;index" json:"node_id"`
	Type          AccountType     `gorm:"type:varchar(32);not null" json:"type"`
	Name          string          `json:"name"`
	Comment       string          `json:"comment"`
	Balance       decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"balance"`
	VoucherAmount int64           `gorm:"not null;default:0;check:chk_account_vouchers,type <> 'private' OR voucher_amount >= 0" json:"vouchers"`
	UserTagID     *int64          `gorm:"uniqueIndex" json:"user_tag_id"`
}

func (Account) TableName() string { return "account" }

// IsCustomer reports whether balance bounds apply.
func (a *Account) IsCustomer() bool { return a.Type == AccountPrivate }

// Transaction is one immutable ledger posting.
type Transaction struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	OrderID          *int64          `gorm:"index" json:"order_id"`
	SourceAccountID  int64           `gorm:"not null;index" json:"source_account"`
	TargetAccountID  int64           `gorm:"not null;index" json:"target_account"`
	Amount           decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	VoucherAmount    int64           `gorm:"not null;default:0" json:"vouchers_amount"`
	BookedAt         time.Time       `gorm:"not null" json:"booked_at"`
	Description      string          `json:"description"`
	ConductingUserID *int64          `json:"conducting_user_id"`
}

func (Transaction) TableName() string { return "transaction" }

// CustomerInfo holds bank data and payout state of a private account.
type CustomerInfo struct {
	CustomerAccountID int64           `gorm:"primaryKey" json:"customer_account_id"`
	IBAN              *string         `gorm:"column:iban" json:"iban"`
	AccountName       *string         `json:"account_name"`
	Email             *string         `json:"email"`
	Donation          decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"donation"`
	DonateAll         bool            `gorm:"not null;default:false" json:"donate_all"`
	PayoutExport      bool            `gorm:"not null" json:"payout_export"`
	PayoutError       *string         `json:"payout_error"`
	PayoutRunID       *int64          `gorm:"index" json:"payout_run_id"`
	HasEnteredInfo    bool            `gorm:"not null;default:false" json:"has_entered_info"`
}

func (CustomerInfo) TableName() string { return "customer_info" }
