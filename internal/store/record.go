package store

import "github.com/MarcoPoloResearchLab/prestapp/internal/lending"

// SyncState is the local bookkeeping carried by every synchronized row.
// Revision grows with every local write and tells the sync engine whether
// a row changed while it was on the wire.
type SyncState struct {
	LocalKey  string `gorm:"column:local_key;size:64;index"`
	IsPending bool   `gorm:"column:is_pending;not null;index"`
	IsDeleted bool   `gorm:"column:is_deleted;not null;index"`
	Revision  int64  `gorm:"column:revision;not null;default:0"`
}

// Record is implemented by the row types stored in a Table.
type Record[R any] interface {
	Key() int64
	State() SyncState
	WithKey(id int64) R
	WithState(state SyncState) R
}

// RouteRecord is a route row plus its sync state.
type RouteRecord struct {
	lending.Route
	SyncState
}

func (r RouteRecord) Key() int64                            { return r.ID }
func (r RouteRecord) State() SyncState                      { return r.SyncState }
func (r RouteRecord) WithKey(id int64) RouteRecord          { r.ID = id; return r }
func (r RouteRecord) WithState(state SyncState) RouteRecord { r.SyncState = state; return r }

// ClientRecord is a client row plus its sync state.
type ClientRecord struct {
	lending.Client
	SyncState
}

func (r ClientRecord) Key() int64                             { return r.ID }
func (r ClientRecord) State() SyncState                       { return r.SyncState }
func (r ClientRecord) WithKey(id int64) ClientRecord          { r.ID = id; return r }
func (r ClientRecord) WithState(state SyncState) ClientRecord { r.SyncState = state; return r }

// LoanRecord is a loan row plus its sync state.
type LoanRecord struct {
	lending.Loan
	SyncState
}

func (r LoanRecord) Key() int64                           { return r.ID }
func (r LoanRecord) State() SyncState                     { return r.SyncState }
func (r LoanRecord) WithKey(id int64) LoanRecord          { r.ID = id; return r }
func (r LoanRecord) WithState(state SyncState) LoanRecord { r.SyncState = state; return r }

// PaymentRecord is a payment row plus its sync state.
type PaymentRecord struct {
	lending.Payment
	SyncState
}

func (r PaymentRecord) Key() int64                              { return r.ID }
func (r PaymentRecord) State() SyncState                        { return r.SyncState }
func (r PaymentRecord) WithKey(id int64) PaymentRecord          { r.ID = id; return r }
func (r PaymentRecord) WithState(state SyncState) PaymentRecord { r.SyncState = state; return r }

// Models lists the gorm models backing the local store.
func Models() []any {
	return []any{&RouteRecord{}, &ClientRecord{}, &LoanRecord{}, &PaymentRecord{}, &SequenceRecord{}}
}
