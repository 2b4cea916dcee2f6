package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashRegister is a physical drawer; its balance lives on AccountID.
type CashRegister struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	NodeID    int64  `gorm:"not null;index" json:"node_id"`
	Name      string `gorm:"not null" json:"name"`
	AccountID int64  `gorm:"not null;uniqueIndex" json:"account_id"`
}

func (CashRegister) TableName() string { return "cash_register" }

// CashRegisterStocking is a denominated template for the initial drawer content.
type CashRegisterStocking struct {
	ID             int64           `gorm:"primaryKey" json:"id"`
	NodeID         int64           `gorm:"not null;index" json:"node_id"`
	Name           string          `gorm:"not null" json:"name"`
	Euro200        int64           `gorm:"not null;default:0;check:euro200 >= 0" json:"euro200"`
	Euro100        int64           `gorm:"not null;default:0;check:euro100 >= 0" json:"euro100"`
	Euro50         int64           `gorm:"not null;default:0;check:euro50 >= 0" json:"euro50"`
	Euro20         int64           `gorm:"not null;default:0;check:euro20 >= 0" json:"euro20"`
	Euro10         int64           `gorm:"not null;default:0;check:euro10 >= 0" json:"euro10"`
	Euro5          int64           `gorm:"not null;default:0;check:euro5 >= 0" json:"euro5"`
	Euro2Rolls     int64           `gorm:"column:euro2_rolls;not null;default:0" json:"euro2"`
	Euro1Rolls     int64           `gorm:"column:euro1_rolls;not null;default:0" json:"euro1"`
	Cent50Rolls    int64           `gorm:"column:cent50_rolls;not null;default:0" json:"cent50"`
	Cent20Rolls    int64           `gorm:"column:cent20_rolls;not null;default:0" json:"cent20"`
	Cent10Rolls    int64           `gorm:"column:cent10_rolls;not null;default:0" json:"cent10"`
	Cent5Rolls     int64           `gorm:"column:cent5_rolls;not null;default:0" json:"cent5"`
	Cent2Rolls     int64           `gorm:"column:cent2_rolls;not null;default:0" json:"cent2"`
	Cent1Rolls     int64           `gorm:"column:cent1_rolls;not null;default:0" json:"cent1"`
	VariableInEuro decimal.Decimal `gorm:"type:numeric(20,4);not null;default:0" json:"variable_in_euro"`
}

func (CashRegisterStocking) TableName() string { return "cash_register_stocking" }

// coin rolls hold 25 (2€, 1€) or 40/50 coins (cents), following the usual bank packaging.
var rollValues = []struct {
	coins int64
	value string
}{
	{25, "2"}, {25, "1"}, {40, "0.5"}, {40, "0.2"}, {40, "0.1"}, {50, "0.05"}, {50, "0.02"}, {50, "0.01"},
}

// Total is the drawer amount produced by the stocking.
func (s *CashRegisterStocking) Total() decimal.Decimal {
	total := s.VariableInEuro
	notes := []struct {
		n int64
		v int64
	}{{s.Euro200, 200}, {s.Euro100, 100}, {s.Euro50, 50}, {s.Euro20, 20}, {s.Euro10, 10}, {s.Euro5, 5}}
	for _, x := range notes {
		total = total.Add(decimal.NewFromInt(x.n * x.v))
	}
	rolls := []int64{s.Euro2Rolls, s.Euro1Rolls, s.Cent50Rolls, s.Cent20Rolls, s.Cent10Rolls, s.Cent5Rolls, s.Cent2Rolls, s.Cent1Rolls}
	for i, n := range rolls {
		v := decimal.RequireFromString(rollValues[i].value)
		total = total.Add(v.Mul(decimal.NewFromInt(n * rollValues[i].coins)))
	}
	return total
}

// CashierShift records one closed-out cashier session.
type CashierShift struct {
	ID               int64           `gorm:"primaryKey" json:"id"`
	NodeID           int64           `gorm:"not null;index" json:"node_id"`
	CashierID        int64           `gorm:"not null;index" json:"cashier_id"`
	CashRegisterID   int64           `gorm:"not null" json:"cash_register_id"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          time.Time       `json:"ended_at"`
	ExpectedBalance  decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"expected_balance"`
	ActualBalance    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"actual_balance"`
	Imbalance        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"imbalance"`
	Comment          string          `json:"comment"`
	ClosingOutUserID int64           `json:"closing_out_user_id"`
}

func (CashierShift) TableName() string { return "cashier_shift" }
