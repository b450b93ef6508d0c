package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("store: database handle is required")

// Store groups the entity tables of the local database.
type Store struct {
	db       *gorm.DB
	changes  *ChangeFeed
	Routes   *Table[RouteRecord]
	Clients  *Table[ClientRecord]
	Loans    *Table[LoanRecord]
	Payments *Table[PaymentRecord]
}

// New wraps a migrated database. A nil feed disables change notifications.
func New(db *gorm.DB, changes *ChangeFeed) (*Store, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if changes == nil {
		changes = NewChangeFeed()
	}
	return bindStore(db, changes, changes.Publish), nil
}

func bindStore(db *gorm.DB, changes *ChangeFeed, publish func(Change)) *Store {
	var (
		routes   RouteRecord
		clients  ClientRecord
		loans    LoanRecord
		payments PaymentRecord
	)
	return &Store{
		db:      db,
		changes: changes,
		Routes: newTable[RouteRecord](db, routes.TableName(), tableOptions{
			cascades:               []foreignKey{{table: loans.TableName(), column: "route_id"}},
			pendingIncludesDeleted: true,
		}, publish),
		Clients: newTable[ClientRecord](db, clients.TableName(), tableOptions{
			cascades:               []foreignKey{{table: loans.TableName(), column: "client_id"}},
			pendingIncludesDeleted: true,
		}, publish),
		Loans: newTable[LoanRecord](db, loans.TableName(), tableOptions{
			cascades:               []foreignKey{{table: payments.TableName(), column: "loan_id"}},
			pendingIncludesDeleted: true,
		}, publish),
		Payments: newTable[PaymentRecord](db, payments.TableName(), tableOptions{}, publish),
	}
}

// Changes exposes the write notifications of this store.
func (s *Store) Changes() *ChangeFeed {
	return s.changes
}

// Transaction runs fn against a store bound to one database transaction.
// Change notifications are delivered only after a successful commit.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	var buffered []Change
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(bindStore(tx, s.changes, func(change Change) {
			buffered = append(buffered, change)
		}))
	})
	if err != nil {
		return err
	}
	for _, change := range buffered {
		s.changes.Publish(change)
	}
	return nil
}
