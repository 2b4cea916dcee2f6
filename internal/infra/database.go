package infra

import (
	"fmt"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase establishes a GORM connection backed by pgx, runs AutoMigrate to
// create / update all tables, then applies the idempotent SQL patches that GORM
// cannot express (ledger check constraints, partial indexes).
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates the schema. Also used by the integration tests.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Event{},
		&model.Node{},
		&model.UserTagSecret{},
		&model.UserTag{},
		&model.Account{},
		&model.CustomerInfo{},
		&model.TaxRate{},
		&model.Product{},
		&model.TillButton{},
		&model.TillLayout{},
		&model.TillProfile{},
		&model.TSE{},
		&model.CashRegister{},
		&model.CashRegisterStocking{},
		&model.Till{},
		&model.User{},
		&model.UserRole{},
		&model.UserToRole{},
		&model.UserSession{},
		&model.CustomerSession{},
		&model.CashierShift{},
		&model.Order{},
		&model.LineItem{},
		&model.Transaction{},
		&model.PendingOrder{},
		&model.PayoutRun{},
		&model.Payout{},
		&model.TicketVoucher{},
		&model.AuditLog{},
		&model.Mail{},
		&model.MailAttachment{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL statements that AutoMigrate cannot
// handle on its own. Each statement is guarded so re-running is a no-op.
func applySchemaPatches(db *gorm.DB) error {
	patches := []struct{ descr, sql string }{
		{"transaction source differs from target", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_transaction_source_target') THEN
    ALTER TABLE transaction ADD CONSTRAINT chk_transaction_source_target CHECK (source_account_id <> target_account_id);
  END IF;
END $$`},
		{"private accounts never negative", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_account_private_balance') THEN
    ALTER TABLE account ADD CONSTRAINT chk_account_private_balance CHECK (type <> 'private' OR balance >= 0);
  END IF;
END $$`},
		{"cash payments carry a register", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_ordr_cash_register') THEN
    ALTER TABLE ordr ADD CONSTRAINT chk_ordr_cash_register
      CHECK ((payment_method = 'cash') = (cash_register_id IS NOT NULL) OR payment_method IS NULL);
  END IF;
END $$`},
		{"line item per order position unique",
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_line_item_order_item ON line_item (order_id, item_id)`},
		{"pending orders lookup",
			`CREATE INDEX IF NOT EXISTS idx_pending_sumup_order_pending ON pending_sumup_order (created_at) WHERE status = 'pending'`},
		{"mail outbox lookup",
			`CREATE INDEX IF NOT EXISTS idx_mails_unsent ON mails (scheduled_send_date) WHERE send_date IS NULL`},
		{"tag pin lookup",
			`CREATE INDEX IF NOT EXISTS idx_user_tag_pin ON user_tag (pin)`},
		{"node ancestors lookup",
			`CREATE INDEX IF NOT EXISTS idx_node_parent_ids ON node USING GIN (parent_ids)`},
		// The advisory lock serializes writers of the same name, so the check
		// also holds under read committed.
		{"product name unique along the tree", `
CREATE OR REPLACE FUNCTION check_product_name_unique() RETURNS trigger LANGUAGE plpgsql AS $$
BEGIN
  IF NEW.type NOT IN ('user_defined', 'ticket') THEN
    RETURN NEW;
  END IF;
  PERFORM pg_advisory_xact_lock(hashtext('product_name:' || NEW.name));
  IF EXISTS (
    SELECT 1 FROM product p
    WHERE p.name = NEW.name AND p.id <> NEW.id AND p.node_id IN (
      SELECT unnest(n.parent_ids || n.id) FROM node n WHERE n.id = NEW.node_id
      UNION
      SELECT n.id FROM node n WHERE n.id = NEW.node_id OR NEW.node_id = ANY(n.parent_ids)
    )
  ) THEN
    RAISE EXCEPTION 'a product named "%" already exists', NEW.name USING ERRCODE = 'unique_violation';
  END IF;
  RETURN NEW;
END $$`},
		{"product name trigger", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'trg_product_name_unique') THEN
    CREATE TRIGGER trg_product_name_unique BEFORE INSERT OR UPDATE OF name, node_id ON product
      FOR EACH ROW EXECUTE FUNCTION check_product_name_unique();
  END IF;
END $$`},
	}
	for _, p := range patches {
		if err := db.Exec(p.sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", p.descr, err)
		}
	}
	return nil
}
