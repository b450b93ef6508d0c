package remote

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
)

const (
	routesPath   = "api/Rutas"
	clientsPath  = "api/Clientes"
	loansPath    = "api/Prestamos"
	paymentsPath = "api/Pagos"
)

// Resource is the CRUD surface of one remote collection.
type Resource[T any] struct {
	client *Client
	path   string
}

func newResource[T any](client *Client, path string) *Resource[T] {
	return &Resource[T]{client: client, path: path}
}

func (r *Resource[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	if err := r.client.do(ctx, http.MethodGet, r.path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Resource[T]) Get(ctx context.Context, id int64) (T, error) {
	var item T
	err := r.client.do(ctx, http.MethodGet, r.itemPath(id), nil, &item)
	return item, err
}

// Create posts item and returns the server's copy, which carries the permanent id.
func (r *Resource[T]) Create(ctx context.Context, item T) (T, error) {
	var created T
	err := r.client.do(ctx, http.MethodPost, r.path, item, &created)
	return created, err
}

func (r *Resource[T]) Update(ctx context.Context, id int64, item T) error {
	return r.client.do(ctx, http.MethodPut, r.itemPath(id), item, nil)
}

func (r *Resource[T]) Delete(ctx context.Context, id int64) error {
	return r.client.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil)
}

func (r *Resource[T]) itemPath(id int64) string {
	return r.path + "/" + strconv.FormatInt(id, 10)
}

// ClientResource adds the natural-key lookup to the clients collection.
type ClientResource struct {
	*Resource[lending.Client]
}

// FindByCedula looks a client up by national id. A miss is ErrNotFound.
func (r ClientResource) FindByCedula(ctx context.Context, cedula string) (lending.Client, error) {
	var found lending.Client
	err := r.client.do(ctx, http.MethodGet, r.path+"/cedula/"+cedula, nil, &found)
	return found, err
}

func (c *Client) Routes() *Resource[lending.Route] {
	return newResource[lending.Route](c, routesPath)
}

func (c *Client) Clients() ClientResource {
	return ClientResource{Resource: newResource[lending.Client](c, clientsPath)}
}

func (c *Client) Loans() *Resource[lending.Loan] {
	return newResource[lending.Loan](c, loansPath)
}

func (c *Client) Payments() *Resource[lending.Payment] {
	return newResource[lending.Payment](c, paymentsPath)
}
