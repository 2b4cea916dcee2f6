package memory

import (
	"context"
	"strings"

	"github.com/stustapay/stustapay-sub000/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

func uniqueViolation(what string) error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint " + what}
}

func (d *DB) CreateNode(_ context.Context, _ *gorm.DB, n *model.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.ParentIDs = pq.Int64Array{}
	var parent *model.Node
	if n.ParentID != nil {
		p, ok := d.nodes[*n.ParentID]
		if !ok {
			return errNotFound
		}
		parent = &p
		n.ParentIDs = append(append(pq.Int64Array{}, p.ParentIDs...), p.ID)
	}
	if n.EventID != nil {
		for _, other := range d.nodes {
			if other.EventID != nil && *other.EventID == *n.EventID {
				return uniqueViolation("node_event_id_key")
			}
		}
	}
	n.ID = d.nextID()
	if parent != nil {
		n.Path = parent.ChildPath(n.ID)
	} else {
		n.Path = model.RootPath(n.ID)
	}
	d.nodes[n.ID] = *n
	return nil
}

func (d *DB) GetNode(_ context.Context, _ *gorm.DB, id int64) (*model.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil, errNotFound
	}
	return &n, nil
}

func (d *DB) UpdateNode(_ context.Context, _ *gorm.DB, n *model.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[n.ID]; !ok {
		return errNotFound
	}
	d.nodes[n.ID] = *n
	return nil
}

func (d *DB) ListNodes(_ context.Context, _ *gorm.DB, ids []int64) ([]model.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.nodes, func(n model.Node) bool { return containsID(ids, n.ID) },
		func(a, b model.Node) bool { return a.ID < b.ID }), nil
}

func (d *DB) ListSubtree(_ context.Context, _ *gorm.DB, rootID int64) ([]model.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.nodes, func(n model.Node) bool { return d.inSubtree(n.ID, rootID) },
		func(a, b model.Node) bool { return strings.Compare(a.Path, b.Path) < 0 }), nil
}

func (d *DB) ListEventNodes(_ context.Context, _ *gorm.DB) ([]model.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return sortedValues(d.nodes, func(n model.Node) bool { return n.EventID != nil },
		func(a, b model.Node) bool { return a.ID < b.ID }), nil
}

func (d *DB) CreateEvent(_ context.Context, _ *gorm.DB, e *model.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e.ID = d.nextID()
	d.events[e.ID] = *e
	return nil
}

func (d *DB) GetEvent(_ context.Context, _ *gorm.DB, id int64) (*model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.events[id]
	if !ok {
		return nil, errNotFound
	}
	return &e, nil
}

func (d *DB) UpdateEvent(_ context.Context, _ *gorm.DB, e *model.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.events[e.ID]; !ok {
		return errNotFound
	}
	d.events[e.ID] = *e
	return nil
}
