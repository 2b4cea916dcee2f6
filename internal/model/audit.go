package model

import "time"

type AuditType string

const (
	AuditNodeCreated            AuditType = "node_created"
	AuditNodeUpdated            AuditType = "node_updated"
	AuditEventCreated           AuditType = "event_created"
	AuditEventUpdated           AuditType = "event_updated"
	AuditUserCreated            AuditType = "user_created"
	AuditUserUpdated            AuditType = "user_updated"
	AuditUserDeleted            AuditType = "user_deleted"
	AuditUserPasswordChanged    AuditType = "user_password_changed"
	AuditUserLoggedIn           AuditType = "user_logged_in"
	AuditUserRoleCreated        AuditType = "user_role_created"
	AuditUserRoleUpdated        AuditType = "user_role_updated"
	AuditUserRoleDeleted        AuditType = "user_role_deleted"
	AuditUserToRoleUpdated      AuditType = "user_to_role_updated"
	AuditTaxRateCreated         AuditType = "tax_rate_created"
	AuditTaxRateUpdated         AuditType = "tax_rate_updated"
	AuditTaxRateDeleted         AuditType = "tax_rate_deleted"
	AuditProductCreated         AuditType = "product_created"
	AuditProductUpdated         AuditType = "product_updated"
	AuditProductDeleted         AuditType = "product_deleted"
	AuditTicketCreated          AuditType = "ticket_created"
	AuditTicketUpdated          AuditType = "ticket_updated"
	AuditTicketDeleted          AuditType = "ticket_deleted"
	AuditTillButtonCreated      AuditType = "till_button_created"
	AuditTillButtonUpdated      AuditType = "till_button_updated"
	AuditTillButtonDeleted      AuditType = "till_button_deleted"
	AuditTillLayoutCreated      AuditType = "till_layout_created"
	AuditTillLayoutUpdated      AuditType = "till_layout_updated"
	AuditTillLayoutDeleted      AuditType = "till_layout_deleted"
	AuditTillProfileCreated     AuditType = "till_profile_created"
	AuditTillProfileUpdated     AuditType = "till_profile_updated"
	AuditTillProfileDeleted     AuditType = "till_profile_deleted"
	AuditTillCreated            AuditType = "till_created"
	AuditTillUpdated            AuditType = "till_updated"
	AuditTillDeleted            AuditType = "till_deleted"
	AuditTerminalRegistered     AuditType = "terminal_registered"
	AuditTerminalLoggedOut      AuditType = "terminal_logged_out"
	AuditTerminalUserLoggedIn   AuditType = "terminal_user_logged_in"
	AuditTerminalUserLoggedOut  AuditType = "terminal_user_logged_out"
	AuditCashRegisterCreated    AuditType = "cash_register_created"
	AuditCashRegisterUpdated    AuditType = "cash_register_updated"
	AuditCashRegisterDeleted    AuditType = "cash_register_deleted"
	AuditCashRegisterStockedUp  AuditType = "cash_register_stocked_up"
	AuditCashRegisterTransfer   AuditType = "cash_register_transferred"
	AuditStockingCreated        AuditType = "cash_register_stocking_created"
	AuditStockingUpdated        AuditType = "cash_register_stocking_updated"
	AuditStockingDeleted        AuditType = "cash_register_stocking_deleted"
	AuditCashierClosedOut       AuditType = "cashier_closed_out"
	AuditCashierBalanceChanged  AuditType = "cashier_account_balance_changed"
	AuditTransportBalanceChange AuditType = "transport_account_balance_changed"
	AuditTSECreated             AuditType = "tse_created"
	AuditTSEUpdated             AuditType = "tse_updated"
	AuditSaleCancelled          AuditType = "sale_cancelled"
	AuditPayoutRunCreated       AuditType = "payout_run_created"
	AuditPayoutRunSepaXML       AuditType = "payout_run_sepa_xml_created"
	AuditPayoutRunSetDone       AuditType = "payout_run_set_done"
	AuditPayoutRunRevoked       AuditType = "payout_run_revoked"
	AuditUserTagCreated         AuditType = "user_tag_created"
	AuditUserTagUpdated         AuditType = "user_tag_updated"
	AuditCustomerInfoUpdated    AuditType = "customer_info_updated"
	AuditPresaleSynced          AuditType = "presale_synced"
)

// AuditLog is append-only.
type AuditLog struct {
	ID                    int64     `gorm:"primaryKey" json:"id"`
	NodeID                int64     `gorm:"not null;index" json:"node_id"`
	CreatedAt             time.Time `json:"created_at"`
	LogType               AuditType `gorm:"type:varchar(64);not null" json:"log_type"`
	OriginatingUserID     *int64    `json:"originating_user_id"`
	OriginatingTerminalID *int64    `json:"originating_terminal_id"`
	Content               string    `gorm:"type:jsonb" json:"content"`
}

func (AuditLog) TableName() string { return "audit_log" }
