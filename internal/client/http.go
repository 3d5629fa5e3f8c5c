package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/watch-shop/internal/domain/catalog"
	"github.com/example/watch-shop/internal/domain/order"
)

type base struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func newBase(baseURL string, httpClient *http.Client, token string) base {
	// Deadlines come from the caller's context
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return base{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
	}
}

// do sends body as JSON and decodes a 2xx response into out. Any other
// status becomes a *order.ServiceError carrying the server's message.
func (b base) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &order.ServiceError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &order.ServiceError{Message: "invalid response from service", StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func errorFromResponse(resp *http.Response) *order.ServiceError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := ""
	if json.Unmarshal(raw, &body) == nil {
		msg = body.Error
		if msg == "" {
			msg = body.Message
		}
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &order.ServiceError{Message: msg, StatusCode: resp.StatusCode}
}

// Orders talks to the order service over HTTP
type Orders struct {
	base
}

// NewOrders creates an HTTP order client. token, when set, is sent as a
// bearer token. httpClient may be nil.
func NewOrders(baseURL string, httpClient *http.Client, token string) *Orders {
	return &Orders{base: newBase(baseURL, httpClient, token)}
}

func (o *Orders) Checkout(ctx context.Context, req order.Request) (*order.Confirmation, error) {
	var placed order.Order
	if err := o.do(ctx, http.MethodPost, "/orders/checkout", req, &placed); err != nil {
		return nil, err
	}
	return placed.Confirmation(), nil
}

func (o *Orders) UpdateStatus(ctx context.Context, orderID string, status order.Status) (*order.Order, error) {
	var updated order.Order
	body := map[string]order.Status{"status": status}
	path := "/admin/orders/" + url.PathEscape(orderID) + "/status"
	if err := o.do(ctx, http.MethodPatch, path, body, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Catalog reads products from the catalog service over HTTP
type Catalog struct {
	base
}

func NewCatalog(baseURL string, httpClient *http.Client) *Catalog {
	return &Catalog{base: newBase(baseURL, httpClient, "")}
}

// GetByID returns catalog.ErrProductNotFound on 404
func (c *Catalog) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &p)
	if err != nil {
		var se *order.ServiceError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}
