//go:build integration

package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("stustapay_test"),
		tcPostgres.WithUsername("stustapay"),
		tcPostgres.WithPassword("stustapay"),
		tcPostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgC) })
	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := NewDatabase(url)
	require.NoError(t, err)
	return db
}

// catalogTree creates root with the children a and b and a tax rate at root.
func catalogTree(t *testing.T, db *gorm.DB) (root, a, b int64, taxRateID int64) {
	t.Helper()
	r := &model.Node{Name: "root", Path: "/", ParentIDs: pq.Int64Array{}, ForbiddenObjectsAtNode: pq.StringArray{}, ForbiddenObjectsInSubtree: pq.StringArray{}}
	require.NoError(t, db.Create(r).Error)
	na := &model.Node{Name: "a", ParentID: &r.ID, Path: "/a", ParentIDs: pq.Int64Array{r.ID}, ForbiddenObjectsAtNode: pq.StringArray{}, ForbiddenObjectsInSubtree: pq.StringArray{}}
	require.NoError(t, db.Create(na).Error)
	nb := &model.Node{Name: "b", ParentID: &r.ID, Path: "/b", ParentIDs: pq.Int64Array{r.ID}, ForbiddenObjectsAtNode: pq.StringArray{}, ForbiddenObjectsInSubtree: pq.StringArray{}}
	require.NoError(t, db.Create(nb).Error)
	rate := &model.TaxRate{NodeID: r.ID, Name: "ust", Rate: decimal.RequireFromString("0.19")}
	require.NoError(t, db.Create(rate).Error)
	return r.ID, na.ID, nb.ID, rate.ID
}

func product(nodeID, taxRateID int64, name string) *model.Product {
	price := decimal.RequireFromString("3")
	return &model.Product{
		NodeID:       nodeID,
		Name:         name,
		Type:         model.ProductUserDefined,
		Price:        &price,
		FixedPrice:   true,
		TaxRateID:    taxRateID,
		Restrictions: pq.StringArray{},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func TestProductNameTrigger_TreeScope(t *testing.T) {
	db := startPostgres(t)
	root, a, b, rate := catalogTree(t, db)

	require.NoError(t, db.Create(product(a, rate, "Beer")).Error)
	require.NoError(t, db.Create(product(b, rate, "Beer")).Error, "siblings may reuse a name")

	err := db.Create(product(root, rate, "Beer")).Error
	assert.True(t, isUniqueViolation(err), "got %v", err)

	mate := product(root, rate, "Mate")
	require.NoError(t, db.Create(mate).Error)
	err = db.Create(product(a, rate, "Mate")).Error
	assert.True(t, isUniqueViolation(err), "got %v", err)

	err = db.Model(mate).Update("name", "Beer").Error
	assert.True(t, isUniqueViolation(err), "rename into a taken name, got %v", err)
}

func TestProductNameTrigger_ConcurrentWriters(t *testing.T) {
	db := startPostgres(t)
	root, a, _, rate := catalogTree(t, db)

	first := db.Begin()
	require.NoError(t, first.Create(product(a, rate, "Club Mate")).Error)

	done := make(chan error, 1)
	go func() {
		done <- db.Transaction(func(tx *gorm.DB) error {
			return tx.Create(product(root, rate, "Club Mate")).Error
		})
	}()

	select {
	case err := <-done:
		t.Fatalf("second writer finished before the first committed: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	require.NoError(t, first.Commit().Error)

	err := <-done
	assert.True(t, isUniqueViolation(err), "got %v", err)
}
