package dto

// ─── Request DTOs ────────────────────────────────────────────────────────────

type LoginRequest struct {
	Login    string `json:"username" validate:"required,min=1"`
	Password string `json:"password" validate:"required,min=4"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

type CustomerLoginRequest struct {
	Pin string `json:"pin" validate:"required,min=1"`
}

type RegisterTerminalRequest struct {
	RegistrationUUID string `json:"registration_uuid" validate:"required,uuid"`
}

type TerminalUserLoginRequest struct {
	UserTag UserTagScan `json:"user_tag" validate:"required"`
	RoleID  int64       `json:"user_role_id" validate:"required,min=1"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        UserResponse `json:"user"`
}

type CustomerLoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	CustomerID  int64  `json:"customer_id"`
}

type RegisterTerminalResponse struct {
	Token  string `json:"token"`
	TillID int64  `json:"till_id"`
}

type UserResponse struct {
	ID                 int64   `json:"id"`
	NodeID             int64   `json:"node_id"`
	Login              string  `json:"login"`
	DisplayName        string  `json:"display_name"`
	UserTagID          *int64  `json:"user_tag_id"`
	TransportAccountID *int64  `json:"transport_account_id"`
	CashRegisterID     *int64  `json:"cash_register_id"`
	RoleIDs            []int64 `json:"role_ids,omitempty"`
}

// CurrentTerminalUser is the user logged in at a till.
type CurrentTerminalUser struct {
	ID             int64    `json:"id"`
	Login          string   `json:"login"`
	DisplayName    string   `json:"display_name"`
	RoleID         int64    `json:"active_role_id"`
	RoleName       string   `json:"active_role_name"`
	Privileges     []string `json:"privileges"`
	CashRegisterID *int64   `json:"cash_register_id"`
}
