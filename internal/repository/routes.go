package repository

import (
	"context"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
)

const (
	opRouteAdd    = "routes.add"
	opRouteUpdate = "routes.update"
	opRouteDelete = "routes.delete"
	opRouteGet    = "routes.get"
	opRouteList   = "routes.list"
	opRouteWatch  = "routes.watch"
)

// RouteRepository manages collection routes.
type RouteRepository struct {
	commands *commands[store.RouteRecord]
}

func (r *RouteRepository) Add(ctx context.Context, route lending.Route) (store.RouteRecord, error) {
	valid, err := lending.NewRoute(route.Name, route.Description)
	if err != nil {
		return store.RouteRecord{}, newCommandError(opRouteAdd, "invalid_route", err)
	}
	return r.commands.add(ctx, opRouteAdd, store.RouteRecord{Route: valid})
}

func (r *RouteRepository) Update(ctx context.Context, route lending.Route) (store.RouteRecord, error) {
	valid, err := lending.NewRoute(route.Name, route.Description)
	if err != nil {
		return store.RouteRecord{}, newCommandError(opRouteUpdate, "invalid_route", err)
	}
	valid.ID = route.ID
	return r.commands.update(ctx, opRouteUpdate, store.RouteRecord{Route: valid})
}

func (r *RouteRepository) Delete(ctx context.Context, id int64) error {
	return r.commands.remove(ctx, opRouteDelete, id)
}

func (r *RouteRepository) Get(ctx context.Context, id int64) (store.RouteRecord, error) {
	return r.commands.get(ctx, opRouteGet, id)
}

func (r *RouteRepository) List(ctx context.Context) ([]store.RouteRecord, error) {
	return r.commands.list(ctx, opRouteList, "")
}

// Watch streams the active routes after every local change.
func (r *RouteRepository) Watch(ctx context.Context) <-chan []store.RouteRecord {
	return r.commands.watch(ctx, opRouteWatch, r.List)
}
