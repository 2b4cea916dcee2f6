package model

import (
	"time"

	"github.com/lib/pq"
)

// Privilege is a capability granted by a role at a node and inherited by its subtree.
type Privilege string

const (
	PrivNodeAdministration            Privilege = "node_administration"
	PrivCustomerManagement            Privilege = "customer_management"
	PrivCreateUser                    Privilege = "create_user"
	PrivUserManagement                Privilege = "user_management"
	PrivAllowPrivilegedRoleAssignment Privilege = "allow_privileged_role_assignment"
	PrivCashTransport                 Privilege = "cash_transport"
	PrivTerminalLogin                 Privilege = "terminal_login"
	PrivSupervisedTerminalLogin       Privilege = "supervised_terminal_login"
	PrivCanBookOrders                 Privilege = "can_book_orders"
	PrivGrantFreeTickets              Privilege = "grant_free_tickets"
	PrivGrantVouchers                 Privilege = "grant_vouchers"
	PrivViewNodeStats                 Privilege = "view_node_stats"
	PrivPayoutManagement              Privilege = "payout_management"
)

// AllPrivileges lists every privilege, in declaration order.
func AllPrivileges() []Privilege {
	return []Privilege{
		PrivNodeAdministration, PrivCustomerManagement, PrivCreateUser, PrivUserManagement,
		PrivAllowPrivilegedRoleAssignment, PrivCashTransport, PrivTerminalLogin, PrivSupervisedTerminalLogin,
		PrivCanBookOrders, PrivGrantFreeTickets, PrivGrantVouchers, PrivViewNodeStats, PrivPayoutManagement,
	}
}

// User is a staff member. Admins log in with a password, terminal users by tag.
type User struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	NodeID             int64     `gorm:"not null;index" json:"node_id"`
	Login              string    `gorm:"not null;uniqueIndex" json:"login"`
	DisplayName        string    `json:"display_name"`
	Description        string    `json:"description"`
	PasswordHash       string    `json:"-"`
	UserTagID          *int64    `gorm:"uniqueIndex" json:"user_tag_id"`
	TransportAccountID *int64    `json:"transport_account_id"`
	CashRegisterID     *int64    `gorm:"uniqueIndex" json:"cash_register_id"`
	CreatedAt          time.Time `json:"created_at"`
}

func (User) TableName() string { return "usr" }

// UserRole bundles privileges. Assigning a privileged role needs an elevated grantor.
type UserRole struct {
	ID           int64          `gorm:"primaryKey" json:"id"`
	NodeID       int64          `gorm:"not null;index" json:"node_id"`
	Name         string         `gorm:"not null" json:"name"`
	IsPrivileged bool           `gorm:"not null;default:false" json:"is_privileged"`
	Privileges   pq.StringArray `gorm:"type:text[];not null;default:'{}'" json:"privileges"`
}

func (UserRole) TableName() string { return "user_role" }

// Has reports whether the role grants p.
func (r *UserRole) Has(p Privilege) bool {
	for _, x := range r.Privileges {
		if x == string(p) {
			return true
		}
	}
	return false
}

// UserToRole assigns a role to a user at a node.
type UserToRole struct {
	UserID int64 `gorm:"primaryKey" json:"user_id"`
	RoleID int64 `gorm:"primaryKey" json:"role_id"`
	NodeID int64 `gorm:"primaryKey" json:"node_id"`
}

func (UserToRole) TableName() string { return "user_to_role" }

// UserSession backs an admin token; deleting it revokes the token.
type UserSession struct {
	ID        int64 `gorm:"primaryKey"`
	UserID    int64 `gorm:"not null;index"`
	CreatedAt time.Time
}

func (UserSession) TableName() string { return "usr_session" }

// CustomerSession backs a customer portal token.
type CustomerSession struct {
	ID         int64 `gorm:"primaryKey"`
	CustomerID int64 `gorm:"not null;index"`
	CreatedAt  time.Time
}

func (CustomerSession) TableName() string { return "customer_session" }
