// Package admin is the typed client for the pharmacy dashboard
// surface: stats, inventory, customers, orders, and pending
// consultations, plus a realtime watcher that triggers re-fetches.
package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/GhananilShirpurkar/medisync-intake/pkg/api"
)

// Stats is the dashboard headline block.
type Stats struct {
	TotalOrders      int     `json:"total_orders"`
	PendingOrders    int     `json:"pending_orders"`
	TotalCustomers   int     `json:"total_customers"`
	Revenue          float64 `json:"revenue"`
	LowStockItems    int     `json:"low_stock_items"`
	ActiveSessions   int     `json:"active_sessions"`
	PendingApprovals int     `json:"pending_approvals"`
}

// InventoryItem is one stocked product.
type InventoryItem struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Price    float64 `json:"price"`
	Stock    int     `json:"stock"`
	Reorder  int     `json:"reorder_level,omitempty"`
}

// Customer is one registered patient.
type Customer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Orders int    `json:"order_count,omitempty"`
}

// OrderLine is one line of an admin-visible order.
type OrderLine struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is one order as the dashboard sees it.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id,omitempty"`
	Status     string      `json:"status"`
	Items      []OrderLine `json:"items"`
	Total      float64     `json:"total"`
	CreatedAt  string      `json:"created_at,omitempty"`
}

// PendingConsultation is an intake session awaiting pharmacist review.
type PendingConsultation struct {
	SessionID string  `json:"session_id"`
	Summary   string  `json:"summary,omitempty"`
	Severity  float64 `json:"severity,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// Order actions accepted by the backend.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionFulfill = "fulfill"
)

// Client wraps the shared backend client with the admin namespace.
type Client struct {
	api *api.Client
}

// NewClient builds an admin client over an existing backend client.
func NewClient(a *api.Client) *Client {
	return &Client{api: a}
}

// Stats fetches the dashboard headline numbers.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Inventory lists every stocked product.
func (c *Client) Inventory(ctx context.Context) ([]InventoryItem, error) {
	var out []InventoryItem
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/admin/inventory", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInventoryItem adds a product.
func (c *Client) CreateInventoryItem(ctx context.Context, item InventoryItem) (*InventoryItem, error) {
	var out InventoryItem
	if err := c.api.Do(ctx, http.MethodPost, "/api/v1/admin/inventory", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateInventoryItem replaces a product by id.
func (c *Client) UpdateInventoryItem(ctx context.Context, item InventoryItem) (*InventoryItem, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("admin: inventory item id required")
	}
	var out InventoryItem
	path := "/api/v1/admin/inventory/" + url.PathEscape(item.ID)
	if err := c.api.Do(ctx, http.MethodPut, path, item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteInventoryItem removes a product by id.
func (c *Client) DeleteInventoryItem(ctx context.Context, id string) error {
	return c.api.Do(ctx, http.MethodDelete, "/api/v1/admin/inventory/"+url.PathEscape(id), nil, nil)
}

// Customers lists registered patients.
func (c *Client) Customers(ctx context.Context) ([]Customer, error) {
	var out []Customer
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/admin/customers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Orders lists every order.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/admin/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pending lists consultations awaiting review.
func (c *Client) Pending(ctx context.Context) ([]PendingConsultation, error) {
	var out []PendingConsultation
	if err := c.api.Do(ctx, http.MethodGet, "/api/v1/admin/pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OrderAction applies approve/reject/fulfill to one order.
func (c *Client) OrderAction(ctx context.Context, orderID, action string) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("admin: order id required")
	}
	var out Order
	path := "/api/v1/admin/orders/" + url.PathEscape(orderID) + "/action"
	body := struct {
		Action string `json:"action"`
	}{Action: action}
	if err := c.api.Do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
