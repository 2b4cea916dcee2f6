package router

import (
	"time"

	"github.com/stustapay/stustapay-sub000/internal/config"
	"github.com/stustapay/stustapay-sub000/internal/handler"
	"github.com/stustapay/stustapay-sub000/internal/infra"
	"github.com/stustapay/stustapay-sub000/internal/middleware"
	"github.com/stustapay/stustapay-sub000/internal/repository"
	"github.com/stustapay/stustapay-sub000/internal/service"
	"github.com/stustapay/stustapay-sub000/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// lockTTL bounds how long a crashed request can hold an order UUID.
const lockTTL = 30 * time.Second

// Services is the composition root shared by the HTTP server and the
// background workers.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
type Services struct {
	Auth       *service.Authorizer
	Tokens     service.TokenService
	Audit      service.AuditService
	Ledger     service.LedgerService
	Login      service.AuthService
	Tree       service.TreeService
	Users      service.UserService
	Catalog    service.CatalogService
	Terminals  service.TerminalService
	Orders     service.OrderService
	Registers  service.CashRegisterService
	Customers  service.CustomerService
	Payouts    service.PayoutService
	Pending    service.PendingOrderService
	Presale    service.PresaleService
	Mail       service.MailService
	Dispatcher *worker.Dispatcher

	SumUpCB  *infra.CircuitBreaker
	PretixCB *infra.CircuitBreaker
}

// Build wires repositories, provider clients and services.
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Services {
	// ── Infrastructure ───────────────────────────────────────────────────────
	sumupCB := infra.NewCircuitBreaker("sumup", infra.DefaultCBConfig())
	pretixCB := infra.NewCircuitBreaker("pretix", infra.DefaultCBConfig())
	sumup := infra.NewSumUpClient(cfg.SumUpAPIURL, cfg.ExternalTimeout(), sumupCB)
	pretix := infra.NewPretixClient(cfg.ExternalTimeout(), pretixCB)
	locker := infra.NewRedisLocker(rdb, lockTTL)
	bons := infra.NewBonRenderer(cfg.BonStoragePath)
	mailer := infra.NewSMTPMailer()
	// TSE signing is delegated to an external appliance and not part of this process
	signer := service.NoopSigner{}

	// ── Repositories ─────────────────────────────────────────────────────────
	store := repository.NewStore(db)

	// ── Services ─────────────────────────────────────────────────────────────
	auth := service.NewAuthorizer(store.Tree, store.Users)
	audit := service.NewAuditService(store.Audit, auth)
	ledger := service.NewLedgerService(store.Accounts)
	tokens := service.NewTokenService(store, cfg.JWTSecret, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	mail := service.NewMailService(store, mailer)

	return &Services{
		Auth:       auth,
		Tokens:     tokens,
		Audit:      audit,
		Ledger:     ledger,
		Login:      service.NewAuthService(store, tokens, audit),
		Tree:       service.NewTreeService(store, ledger, auth, audit),
		Users:      service.NewUserService(store, auth, audit),
		Catalog:    service.NewCatalogService(store, auth, audit),
		Terminals:  service.NewTerminalService(store, tokens, audit),
		Orders:     service.NewOrderService(store, ledger, auth, audit, signer, locker, bons),
		Registers:  service.NewCashRegisterService(store, ledger, auth, audit, signer),
		Customers:  service.NewCustomerService(store, ledger, auth, audit, sumup),
		Payouts:    service.NewPayoutService(store, ledger, auth, audit, mail),
		Pending:    service.NewPendingOrderService(store, ledger, signer, sumup, cfg.PendingOrderMaxCheckInterval),
		Presale:    service.NewPresaleService(store, auth, pretix),
		Mail:       mail,
		Dispatcher: worker.NewDispatcher(rdb),
		SumUpCB:    sumupCB,
		PretixCB:   pretixCB,
	}
}

// New returns a configured Gin engine serving the terminal, admin and
// customer portal APIs.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, s *Services) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(middleware.NewLimiter("api", cfg.APIRateLimit, time.Minute)))
	logins := middleware.NewLimiter("login", cfg.LoginRateLimit, time.Minute)

	// ── Handlers ─────────────────────────────────────────────────────────────
	authH := handler.NewAuthHandler(s.Login)
	terminalH := handler.NewTerminalHandler(s.Terminals, s.Orders, s.Pending, s.Registers, s.Customers)
	treeH := handler.NewTreeHandler(s.Tree)
	ordersH := handler.NewOrdersHandler(s.Orders)
	payoutsH := handler.NewPayoutsHandler(s.Payouts, s.Dispatcher)
	auditH := handler.NewAuditHandler(s.Audit)
	presaleH := handler.NewPresaleHandler(s.Presale, s.Dispatcher)
	dlqH := handler.NewDLQHandler(rdb, s.Auth)
	customerH := handler.NewCustomerHandler(s.Customers, s.Orders, s.Pending)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, s.SumUpCB, s.PretixCB))

	// Terminal RPC
	r.POST("/terminal/auth/register-terminal", middleware.LoginRateLimiter(logins), terminalH.Register)
	term := r.Group("/terminal", middleware.TerminalAuth(s.Tokens, s.Terminals))
	{
		term.POST("/auth/logout", terminalH.Logout)
		term.GET("/config", terminalH.Config)

		term.POST("/user/login", middleware.LoginRateLimiter(logins), terminalH.LoginUser)
		term.POST("/user/logout", terminalH.LogoutUser)
		term.GET("/user", terminalH.CurrentUser)

		order := term.Group("/order")
		{
			order.GET("", terminalH.ListOrders)
			order.POST("/check-sale", terminalH.CheckSale)
			order.POST("/book-sale", terminalH.BookSale)
			order.POST("/check-topup", terminalH.CheckTopUp)
			order.POST("/book-topup", terminalH.BookTopUp)
			order.POST("/check-pay-out", terminalH.CheckPayOut)
			order.POST("/book-pay-out", terminalH.BookPayOut)
			order.POST("/check-ticket-scan", terminalH.CheckTicketScan)
			order.POST("/check-ticket-sale", terminalH.CheckTicketSale)
			order.POST("/book-ticket-sale", terminalH.BookTicketSale)
			order.POST("/cancel-sale", terminalH.CancelSale)
			order.POST("/check-pending-topup", terminalH.CheckPendingTopUp)
			order.POST("/check-pending-ticket-sale", terminalH.CheckPendingTicketSale)
		}

		term.POST("/customer/grant-vouchers", terminalH.GrantVouchers)

		register := term.Group("/cash-register")
		{
			register.POST("/stock-up", terminalH.StockUp)
			register.POST("/transfer", terminalH.TransferRegister)
			register.POST("/modify-cashier-balance", terminalH.ModifyCashierBalance)
			register.POST("/modify-transport-balance", terminalH.ModifyTransportBalance)
		}
	}

	// Admin auth
	r.POST("/auth/login", middleware.LoginRateLimiter(logins), authH.Login)
	adminMW := middleware.JWTAuth(s.Tokens, service.TokenUser)
	r.POST("/auth/logout", adminMW, authH.Logout)
	r.POST("/auth/change-password", adminMW, authH.ChangePassword)

	// Admin RPC, authorized per node by the services
	admin := r.Group("/admin", adminMW)
	admin.GET("/tree", treeH.GetTree)
	n := admin.Group("/nodes/:node_id")
	{
		n.GET("", handler.NodeList(s.Tree.GetNode))
		n.PUT("", handler.NodeRPC(s.Tree.UpdateNode))
		n.POST("/nodes", handler.NodeCreate(s.Tree.CreateNode))
		n.POST("/events", handler.NodeCreate(s.Tree.CreateEvent))
		n.GET("/event", handler.NodeList(s.Tree.GetEvent))
		n.PUT("/event", handler.NodeRPC(s.Tree.UpdateEvent))

		n.GET("/users", handler.NodeList(s.Users.ListUsers))
		n.POST("/users", handler.NodeCreate(s.Users.CreateUser))
		n.PUT("/users/:id", handler.NodeUpdate(s.Users.UpdateUser))
		n.DELETE("/users/:id", handler.NodeDelete(s.Users.DeleteUser))
		n.GET("/user-roles", handler.NodeList(s.Users.ListRoles))
		n.POST("/user-roles", handler.NodeCreate(s.Users.CreateRole))
		n.PUT("/user-roles/:id", handler.NodeUpdate(s.Users.UpdateRole))
		n.DELETE("/user-roles/:id", handler.NodeDelete(s.Users.DeleteRole))
		n.POST("/user-to-roles", handler.NodeAction(s.Users.AssignRole))
		n.POST("/user-to-roles/remove", handler.NodeAction(s.Users.RemoveRole))
		n.GET("/user-tags", handler.NodeList(s.Users.ListUserTags))
		n.POST("/user-tags", handler.NodeCreate(s.Users.CreateUserTag))
		n.POST("/user-tag-secrets", handler.NodeCreate(s.Users.CreateUserTagSecret))

		n.GET("/tax-rates", handler.NodeList(s.Catalog.ListTaxRates))
		n.POST("/tax-rates", handler.NodeCreate(s.Catalog.CreateTaxRate))
		n.PUT("/tax-rates/:id", handler.NodeUpdate(s.Catalog.UpdateTaxRate))
		n.DELETE("/tax-rates/:id", handler.NodeDelete(s.Catalog.DeleteTaxRate))
		n.GET("/products", handler.NodeList(s.Catalog.ListProducts))
		n.POST("/products", handler.NodeCreate(s.Catalog.CreateProduct))
		n.PUT("/products/:id", handler.NodeUpdate(s.Catalog.UpdateProduct))
		n.DELETE("/products/:id", handler.NodeDelete(s.Catalog.DeleteProduct))
		n.GET("/tickets", handler.NodeList(s.Catalog.ListTickets))
		n.POST("/tickets", handler.NodeCreate(s.Catalog.CreateTicket))
		n.PUT("/tickets/:id", handler.NodeUpdate(s.Catalog.UpdateTicket))
		n.DELETE("/tickets/:id", handler.NodeDelete(s.Catalog.DeleteTicket))
		n.GET("/till-buttons", handler.NodeList(s.Catalog.ListButtons))
		n.POST("/till-buttons", handler.NodeCreate(s.Catalog.CreateButton))
		n.PUT("/till-buttons/:id", handler.NodeUpdate(s.Catalog.UpdateButton))
		n.DELETE("/till-buttons/:id", handler.NodeDelete(s.Catalog.DeleteButton))
		n.GET("/till-layouts", handler.NodeList(s.Catalog.ListLayouts))
		n.POST("/till-layouts", handler.NodeCreate(s.Catalog.CreateLayout))
		n.PUT("/till-layouts/:id", handler.NodeUpdate(s.Catalog.UpdateLayout))
		n.DELETE("/till-layouts/:id", handler.NodeDelete(s.Catalog.DeleteLayout))
		n.GET("/till-profiles", handler.NodeList(s.Catalog.ListProfiles))
		n.POST("/till-profiles", handler.NodeCreate(s.Catalog.CreateProfile))
		n.PUT("/till-profiles/:id", handler.NodeUpdate(s.Catalog.UpdateProfile))
		n.DELETE("/till-profiles/:id", handler.NodeDelete(s.Catalog.DeleteProfile))
		n.GET("/tills", handler.NodeList(s.Catalog.ListTills))
		n.POST("/tills", handler.NodeCreate(s.Catalog.CreateTill))
		n.PUT("/tills/:id", handler.NodeUpdate(s.Catalog.UpdateTill))
		n.DELETE("/tills/:id", handler.NodeDelete(s.Catalog.DeleteTill))
		n.POST("/tills/:id/logout", handler.NodeDelete(s.Catalog.LogoutTerminal))
		n.GET("/tses", handler.NodeList(s.Catalog.ListTSEs))
		n.POST("/tses", handler.NodeCreate(s.Catalog.CreateTSE))
		n.PUT("/tses/:id", handler.NodeUpdate(s.Catalog.UpdateTSE))

		n.GET("/cash-registers", handler.NodeList(s.Registers.ListRegisters))
		n.POST("/cash-registers", handler.NodeCreate(s.Registers.CreateRegister))
		n.PUT("/cash-registers/:id", handler.NodeUpdate(s.Registers.UpdateRegister))
		n.DELETE("/cash-registers/:id", handler.NodeDelete(s.Registers.DeleteRegister))
		n.GET("/cash-register-stockings", handler.NodeList(s.Registers.ListStockings))
		n.POST("/cash-register-stockings", handler.NodeCreate(s.Registers.CreateStocking))
		n.PUT("/cash-register-stockings/:id", handler.NodeUpdate(s.Registers.UpdateStocking))
		n.DELETE("/cash-register-stockings/:id", handler.NodeDelete(s.Registers.DeleteStocking))
		n.POST("/transfer-cash-register", handler.NodeAction(s.Registers.TransferRegisterAdmin))
		n.POST("/close-out", handler.NodeRPC(s.Registers.CloseOut))
		n.GET("/cashiers/:id/shifts", handler.NodeGet(s.Registers.ListShifts))

		n.GET("/customers/:id", handler.NodeGet(s.Customers.FindCustomer))

		n.GET("/orders", ordersH.List)
		n.GET("/orders/:id", handler.NodeGet(s.Orders.GetOrder))
		n.POST("/orders/:id/cancel", handler.NodeGet(s.Orders.CancelSaleAdmin))
		n.GET("/orders/:id/bon", ordersH.Bon)

		n.GET("/payout-runs", handler.NodeList(s.Payouts.ListPayoutRuns))
		n.POST("/payout-runs", handler.NodeCreate(s.Payouts.CreatePayoutRun))
		n.GET("/payout-runs/:id/payouts", handler.NodeGet(s.Payouts.ListPayouts))
		n.POST("/payout-runs/:id/sepa.xml", payoutsH.SepaXML)
		n.GET("/payout-runs/:id/payouts.csv", payoutsH.CSV)
		n.POST("/payout-runs/:id/set-done", payoutsH.SetDone)
		n.POST("/payout-runs/:id/revoke", handler.NodeGet(s.Payouts.Revoke))

		n.GET("/audit-logs", auditH.List)

		n.GET("/ticket-vouchers", handler.NodeList(s.Presale.ListTicketVouchers))
		n.POST("/presale/sync", presaleH.Sync)

		n.GET("/dead-letters/:queue", dlqH.List)
	}

	// Customer portal
	r.POST("/customer-portal/auth/login", middleware.LoginRateLimiter(logins), authH.CustomerLogin)
	cust := r.Group("/customer-portal", middleware.JWTAuth(s.Tokens, service.TokenCustomer))
	{
		cust.POST("/auth/logout", authH.CustomerLogout)
		cust.GET("/customer", customerH.Get)
		cust.GET("/orders", customerH.Orders)
		cust.GET("/payout-info", customerH.PayoutInfo)
		cust.POST("/customer-info", customerH.UpdateBankData)
		cust.POST("/customer-info/donate-all", customerH.DonateAll)
		cust.POST("/sumup/create-checkout", customerH.CreateCheckout)
		cust.POST("/sumup/check-checkout", customerH.CheckCheckout)
	}

	// Swagger UI, only enabled outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
