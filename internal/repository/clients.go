package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/remote"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"go.uber.org/zap"
)

const (
	opClientAdd      = "clients.add"
	opClientUpdate   = "clients.update"
	opClientDelete   = "clients.delete"
	opClientGet      = "clients.get"
	opClientList     = "clients.list"
	opClientByCedula = "clients.find_by_cedula"
	opClientLookup   = "clients.lookup_remote"
	opClientWatch    = "clients.watch"
)

var errLookupUnavailable = errors.New("repository: remote client lookup is not configured")

// ClientRepository manages borrowers.
type ClientRepository struct {
	commands *commands[store.ClientRecord]
	lookup   ClientLookup
}

func (r *ClientRepository) Add(ctx context.Context, client lending.Client) (store.ClientRecord, error) {
	client = client.Normalize()
	if err := client.Validate(); err != nil {
		return store.ClientRecord{}, newCommandError(opClientAdd, "invalid_client", err)
	}
	existing, err := r.commands.table.ListActiveWhere(ctx, "cedula = ?", client.Cedula)
	if err != nil {
		r.commands.logError(opClientAdd, "duplicate_check_failed", err)
		return store.ClientRecord{}, newCommandError(opClientAdd, "duplicate_check_failed", err)
	}
	if len(existing) > 0 {
		return store.ClientRecord{}, newCommandError(opClientAdd, "duplicate_cedula", ErrDuplicateCedula)
	}
	return r.commands.add(ctx, opClientAdd, store.ClientRecord{Client: client})
}

func (r *ClientRepository) Update(ctx context.Context, client lending.Client) (store.ClientRecord, error) {
	client = client.Normalize()
	if err := client.Validate(); err != nil {
		return store.ClientRecord{}, newCommandError(opClientUpdate, "invalid_client", err)
	}
	return r.commands.update(ctx, opClientUpdate, store.ClientRecord{Client: client})
}

func (r *ClientRepository) Delete(ctx context.Context, id int64) error {
	return r.commands.remove(ctx, opClientDelete, id)
}

func (r *ClientRepository) Get(ctx context.Context, id int64) (store.ClientRecord, error) {
	return r.commands.get(ctx, opClientGet, id)
}

func (r *ClientRepository) List(ctx context.Context) ([]store.ClientRecord, error) {
	return r.commands.list(ctx, opClientList, "")
}

// FindByCedula returns the active local client with the given national id.
func (r *ClientRepository) FindByCedula(ctx context.Context, cedula string) (store.ClientRecord, error) {
	rows, err := r.commands.list(ctx, opClientByCedula, "cedula = ?", strings.TrimSpace(cedula))
	if err != nil {
		return store.ClientRecord{}, err
	}
	if len(rows) == 0 {
		return store.ClientRecord{}, newCommandError(opClientByCedula, "not_found", ErrNotFound)
	}
	return rows[0], nil
}

// LookupRemoteByCedula asks the remote service directly. It fails when offline.
func (r *ClientRepository) LookupRemoteByCedula(ctx context.Context, cedula string) (lending.Client, error) {
	if r.lookup == nil {
		return lending.Client{}, newCommandError(opClientLookup, "unavailable", errLookupUnavailable)
	}
	client, err := r.lookup.FindByCedula(ctx, strings.TrimSpace(cedula))
	if errors.Is(err, remote.ErrNotFound) {
		return lending.Client{}, newCommandError(opClientLookup, "not_found", ErrNotFound)
	}
	if err != nil {
		r.commands.logger.Warn("remote client lookup failed", zap.Error(err))
		return lending.Client{}, newCommandError(opClientLookup, "remote_failed", err)
	}
	return client, nil
}

// Watch streams the active clients after every local change.
func (r *ClientRepository) Watch(ctx context.Context) <-chan []store.ClientRecord {
	return r.commands.watch(ctx, opClientWatch, r.List)
}
