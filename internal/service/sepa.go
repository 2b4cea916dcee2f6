package service

import (
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/apierror"
	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/shopspring/decimal"
)

const painNamespace = "urn:iso:std:iso:20022:tech:xsd:pain.001.001.03"

// ─── pain.001.001.03 ─────────────────────────────────────────────────────────

type sepaDocument struct {
	XMLName  xml.Name     `xml:"Document"`
	Xmlns    string       `xml:"xmlns,attr"`
	Initiate sepaInitiate `xml:"CstmrCdtTrfInitn"`
}

type sepaInitiate struct {
	Header  sepaGroupHeader `xml:"GrpHdr"`
	Payment sepaPaymentInfo `xml:"PmtInf"`
}

type sepaGroupHeader struct {
	MessageID     string    `xml:"MsgId"`
	CreatedAt     string    `xml:"CreDtTm"`
	NumTxs        int       `xml:"NbOfTxs"`
	ControlSum    string    `xml:"CtrlSum"`
	InitiatorName sepaParty `xml:"InitgPty"`
}

type sepaParty struct {
	Name string `xml:"Nm"`
}

type sepaAccount struct {
	IBAN string `xml:"Id>IBAN"`
}

type sepaPaymentInfo struct {
	ID            string         `xml:"PmtInfId"`
	Method        string         `xml:"PmtMtd"`
	BatchBooking  bool           `xml:"BtchBookg"`
	NumTxs        int            `xml:"NbOfTxs"`
	ControlSum    string         `xml:"CtrlSum"`
	ServiceLevel  string         `xml:"PmtTpInf>SvcLvl>Cd"`
	ExecutionDate string         `xml:"ReqdExctnDt"`
	Debtor        sepaParty      `xml:"Dbtr"`
	DebtorAccount sepaAccount    `xml:"DbtrAcct"`
	DebtorAgent   string         `xml:"DbtrAgt>FinInstnId>Othr>Id"`
	ChargeBearer  string         `xml:"ChrgBr"`
	Transactions  []sepaCreditTx `xml:"CdtTrfTxInf"`
}

type sepaCreditTx struct {
	EndToEndID   string      `xml:"PmtId>EndToEndId"`
	Amount       sepaAmount  `xml:"Amt>InstdAmt"`
	Creditor     sepaParty   `xml:"Cdtr"`
	CreditorAcct sepaAccount `xml:"CdtrAcct"`
	Unstructured string      `xml:"RmtInf>Ustrd"`
}

type sepaAmount struct {
	Currency string `xml:"Ccy,attr"`
	Value    string `xml:",chardata"`
}

// sepaConfig is the sender side of a transfer file.
type sepaConfig struct {
	SenderName    string
	SenderIBAN    string
	Description   string
	Currency      string
	ExecutionDate time.Time
}

func sepaConfigOf(event *model.Event, execution time.Time) sepaConfig {
	currency := event.Currency
	if currency == "" {
		currency = "EUR"
	}
	return sepaConfig{
		SenderName:    event.SepaSenderName,
		SenderIBAN:    event.SepaSenderIBAN,
		Description:   event.SepaDescription,
		Currency:      currency,
		ExecutionDate: execution,
	}
}

// payoutDescription fills the {user_tag_uid} placeholder of the transfer
// description.
func payoutDescription(template string, p model.Payout) string {
	uid := ""
	if p.UserTagUID != nil {
		uid = fmt.Sprintf("%X", *p.UserTagUID)
	}
	return strings.ReplaceAll(template, "{user_tag_uid}", uid)
}

// buildSepaXML renders one credit transfer per payout.
func buildSepaXML(cfg sepaConfig, runID int64, payouts []model.Payout, now time.Time) ([]byte, error) {
	if len(payouts) == 0 {
		return nil, apierror.InvalidArgument("payout run %d has no payouts", runID)
	}
	if cfg.ExecutionDate.Before(truncateDay(now)) {
		return nil, apierror.InvalidArgument("execution date must not lie in the past")
	}
	if !validIBAN(cfg.SenderIBAN) {
		return nil, apierror.InvalidArgument("invalid sepa sender iban")
	}

	sum := decimal.Zero
	txs := make([]sepaCreditTx, 0, len(payouts))
	for _, p := range payouts {
		amount := p.Amount.Round(2)
		if !amount.IsPositive() {
			return nil, apierror.InvalidArgument("payout of customer %d must be positive", p.CustomerAccountID)
		}
		desc := payoutDescription(cfg.Description, p)
		if !sepaDescriptionPattern.MatchString(desc) {
			return nil, apierror.InvalidArgument("sepa description %q contains invalid characters", desc)
		}
		sum = sum.Add(amount)
		txs = append(txs, sepaCreditTx{
			EndToEndID:   fmt.Sprintf("%d-%d", runID, p.CustomerAccountID),
			Amount:       sepaAmount{Currency: cfg.Currency, Value: amount.StringFixed(2)},
			Creditor:     sepaParty{Name: p.AccountName},
			CreditorAcct: sepaAccount{IBAN: normalizeIBAN(p.IBAN)},
			Unstructured: desc,
		})
	}

	msgID := fmt.Sprintf("stustapay-payout-%d", runID)
	doc := sepaDocument{
		Xmlns: painNamespace,
		Initiate: sepaInitiate{
			Header: sepaGroupHeader{
				MessageID:     msgID,
				CreatedAt:     now.UTC().Format("2006-01-02T15:04:05"),
				NumTxs:        len(txs),
				ControlSum:    sum.StringFixed(2),
				InitiatorName: sepaParty{Name: cfg.SenderName},
			},
			Payment: sepaPaymentInfo{
				ID:            msgID,
				Method:        "TRF",
				BatchBooking:  false,
				NumTxs:        len(txs),
				ControlSum:    sum.StringFixed(2),
				ServiceLevel:  "SEPA",
				ExecutionDate: cfg.ExecutionDate.Format("2006-01-02"),
				Debtor:        sepaParty{Name: cfg.SenderName},
				DebtorAccount: sepaAccount{IBAN: normalizeIBAN(cfg.SenderIBAN)},
				DebtorAgent:   "NOTPROVIDED",
				ChargeBearer:  "SLEV",
				Transactions:  txs,
			},
		},
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, apierror.Internal("encode sepa xml: %v", err)
	}
	return buf.Bytes(), nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ─── CSV export ──────────────────────────────────────────────────────────────

var payoutCSVHeader = []string{"customer_account_id", "beneficiary_name", "iban", "amount", "donation", "currency", "reference", "uid", "email"}

func buildPayoutCSV(cfg sepaConfig, payouts []model.Payout) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(payoutCSVHeader); err != nil {
		return "", err
	}
	for _, p := range payouts {
		uid := ""
		if p.UserTagUID != nil {
			uid = fmt.Sprintf("%X", *p.UserTagUID)
		}
		if err := w.Write([]string{
			strconv.FormatInt(p.CustomerAccountID, 10),
			p.AccountName,
			p.IBAN,
			p.Amount.StringFixed(2),
			p.Donation.StringFixed(2),
			cfg.Currency,
			payoutDescription(cfg.Description, p),
			uid,
			p.Email,
		}); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}
