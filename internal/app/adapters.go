package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/remote"
	"github.com/MarcoPoloResearchLab/prestapp/internal/repository"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"github.com/MarcoPoloResearchLab/prestapp/internal/syncengine"
)

var errMissingServerID = errors.New("app: remote create returned no id")

// collection is the remote surface a resourceAdapter needs.
type collection[T any] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id int64, item T) error
	Delete(ctx context.Context, id int64) error
}

// resourceAdapter lets the sync engine push local records as wire types.
type resourceAdapter[R store.Record[R], T any] struct {
	remote collection[T]
	toWire func(R) T
	idOf   func(T) int64
}

func (a resourceAdapter[R, T]) Create(ctx context.Context, row R) (int64, error) {
	created, err := a.remote.Create(ctx, a.toWire(row))
	if err != nil {
		return 0, err
	}
	id := a.idOf(created)
	if id <= 0 {
		return 0, fmt.Errorf("%w: got %d", errMissingServerID, id)
	}
	return id, nil
}

func (a resourceAdapter[R, T]) Update(ctx context.Context, row R) error {
	return a.remote.Update(ctx, row.Key(), a.toWire(row))
}

func (a resourceAdapter[R, T]) Delete(ctx context.Context, id int64) error {
	return a.remote.Delete(ctx, id)
}

func routeAdapter(client *remote.Client) resourceAdapter[store.RouteRecord, lending.Route] {
	return resourceAdapter[store.RouteRecord, lending.Route]{
		remote: client.Routes(),
		toWire: func(row store.RouteRecord) lending.Route { return row.Route },
		idOf:   func(route lending.Route) int64 { return route.ID },
	}
}

func clientAdapter(client *remote.Client) resourceAdapter[store.ClientRecord, lending.Client] {
	return resourceAdapter[store.ClientRecord, lending.Client]{
		remote: client.Clients(),
		toWire: func(row store.ClientRecord) lending.Client { return row.Client },
		idOf:   func(client lending.Client) int64 { return client.ID },
	}
}

func loanAdapter(client *remote.Client) resourceAdapter[store.LoanRecord, lending.Loan] {
	return resourceAdapter[store.LoanRecord, lending.Loan]{
		remote: client.Loans(),
		toWire: func(row store.LoanRecord) lending.Loan { return row.Loan },
		idOf:   func(loan lending.Loan) int64 { return loan.ID },
	}
}

func paymentAdapter(client *remote.Client) resourceAdapter[store.PaymentRecord, lending.Payment] {
	return resourceAdapter[store.PaymentRecord, lending.Payment]{
		remote: client.Payments(),
		toWire: func(row store.PaymentRecord) lending.Payment { return row.Payment },
		idOf:   func(payment lending.Payment) int64 { return payment.ID },
	}
}

// clientsByCedula recovers a client the server lost track of by its national id.
func clientsByCedula(clients remote.ClientResource) syncengine.ResolverFunc[store.ClientRecord] {
	return func(ctx context.Context, row store.ClientRecord) (int64, error) {
		found, err := clients.FindByCedula(ctx, strings.TrimSpace(row.Cedula))
		if errors.Is(err, remote.ErrNotFound) {
			return 0, syncengine.ErrNoMatch
		}
		if err != nil {
			return 0, err
		}
		return found.ID, nil
	}
}

// routesByName recovers a route by scanning the remote list for the same
// name and description. Two routes sharing both resolve to the first listed.
func routesByName(routes collection[lending.Route]) syncengine.ResolverFunc[store.RouteRecord] {
	return func(ctx context.Context, row store.RouteRecord) (int64, error) {
		listed, err := routes.List(ctx)
		if err != nil {
			return 0, err
		}
		name := strings.TrimSpace(row.Name)
		for _, candidate := range listed {
			if strings.TrimSpace(candidate.Name) == name && lending.SameDescription(candidate.Description, row.Description) {
				return candidate.ID, nil
			}
		}
		return 0, syncengine.ErrNoMatch
	}
}

// linkLoanClient re-derives the loan's client id from its cedula before the
// loan is sent, so a client synced after the loan was written is picked up.
func linkLoanClient(clients *store.Table[store.ClientRecord]) func(context.Context, store.LoanRecord) (store.LoanRecord, error) {
	return func(ctx context.Context, row store.LoanRecord) (store.LoanRecord, error) {
		clientID, err := repository.ClientIDByCedula(ctx, clients, row.Cedula)
		if errors.Is(err, store.ErrNotFound) {
			return row, nil
		}
		if err != nil {
			return row, err
		}
		row.ClientID = clientID
		return row, nil
	}
}
