package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/greenmile-app/greenmile-backend/api/middleware"
	internalorders "github.com/greenmile-app/greenmile-backend/internal/orders"
	"github.com/greenmile-app/greenmile-backend/pkg/db/models"
	"github.com/greenmile-app/greenmile-backend/pkg/enums"
	"github.com/greenmile-app/greenmile-backend/pkg/pagination"
)

type stubOrdersService struct {
	create          func(ctx context.Context, input internalorders.CreateOrderInput) ([]models.Order, error)
	transition      func(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error)
	get             func(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	listForCustomer func(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters internalorders.OrderFilters) (*internalorders.OrderList, error)
	listForVendor   func(ctx context.Context, vendorID uuid.UUID, params pagination.Params, filters internalorders.OrderFilters) (*internalorders.OrderList, error)
}

func (s *stubOrdersService) Create(ctx context.Context, input internalorders.CreateOrderInput) ([]models.Order, error) {
	if s.create != nil {
		return s.create(ctx, input)
	}
	return nil, nil
}

func (s *stubOrdersService) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) error {
	panic("not implemented")
}

func (s *stubOrdersService) FailPayment(ctx context.Context, orderID uuid.UUID, reason string) error {
	panic("not implemented")
}

func (s *stubOrdersService) Transition(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error) {
	if s.transition != nil {
		return s.transition(ctx, input)
	}
	return &models.Order{}, nil
}

func (s *stubOrdersService) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if s.get != nil {
		return s.get(ctx, orderID)
	}
	return &models.Order{}, nil
}

func (s *stubOrdersService) ListForCustomer(ctx context.Context, customerID uuid.UUID, params pagination.Params, filters internalorders.OrderFilters) (*internalorders.OrderList, error) {
	if s.listForCustomer != nil {
		return s.listForCustomer(ctx, customerID, params, filters)
	}
	return &internalorders.OrderList{}, nil
}

func (s *stubOrdersService) ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params, filters internalorders.OrderFilters) (*internalorders.OrderList, error) {
	if s.listForVendor != nil {
		return s.listForVendor(ctx, vendorID, params, filters)
	}
	return &internalorders.OrderList{}, nil
}

func withOrderRoute(req *http.Request, orderID uuid.UUID) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("orderID", orderID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func TestCreateGroupsPerVendor(t *testing.T) {
	customerID := uuid.New()
	vendorID := uuid.New()
	svc := &stubOrdersService{
		create: func(ctx context.Context, input internalorders.CreateOrderInput) ([]models.Order, error) {
			if input.CustomerID != customerID {
				t.Fatalf("unexpected customer id %s", input.CustomerID)
			}
			if len(input.Items) != 1 || input.Items[0].VendorID != vendorID {
				t.Fatalf("items not forwarded")
			}
			return []models.Order{{ID: uuid.New(), CustomerID: customerID, VendorID: vendorID, TotalCents: 1500}}, nil
		},
	}

	body := `{"pickup_address":"12 Mill Ln","delivery_address":"4 Oak St","distance_km":"3.2","items":[{"vendor_id":"` + vendorID.String() + `","product_name":"Oat milk","quantity":2,"unit_price_cents":450,"carbon_impact":120}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithActor(req.Context(), customerID, enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data struct {
			Orders []struct {
				TotalCents int64 `json:"total_cents"`
			} `json:"orders"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Orders) != 1 || envelope.Data.Orders[0].TotalCents != 1500 {
		t.Fatalf("unexpected orders in response")
	}
}

func TestCreateRejectsEmptyItems(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"pickup_address":"a","delivery_address":"b","distance_km":"1.0","items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	Create(&stubOrdersService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestDetailBlocksForeignCustomer(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		get: func(ctx context.Context, incoming uuid.UUID) (*models.Order, error) {
			return &models.Order{ID: incoming, CustomerID: uuid.New(), VendorID: uuid.New()}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req = withOrderRoute(req, orderID)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestDetailAllowsPlatform(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrdersService{
		get: func(ctx context.Context, incoming uuid.UUID) (*models.Order, error) {
			return &models.Order{ID: incoming, CustomerID: uuid.New(), VendorID: uuid.New(), TotalCents: 900}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req = withOrderRoute(req, orderID)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRolePlatform))

	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestListCustomerPerspective(t *testing.T) {
	customerID := uuid.New()
	svc := &stubOrdersService{
		listForCustomer: func(ctx context.Context, incoming uuid.UUID, params pagination.Params, filters internalorders.OrderFilters) (*internalorders.OrderList, error) {
			if incoming != customerID {
				t.Fatalf("unexpected customer id %s", incoming)
			}
			if params.Limit != 5 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			if filters.Status == nil || *filters.Status != enums.OrderStatusConfirmed {
				t.Fatalf("status filter not parsed")
			}
			return &internalorders.OrderList{Orders: []internalorders.OrderSummary{{TotalCents: 2100}}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5&status=confirmed", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), customerID, enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	var envelope struct {
		Data internalorders.OrderList `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Orders) != 1 || envelope.Data.Orders[0].TotalCents != 2100 {
		t.Fatalf("unexpected orders in response")
	}
}

func TestListRejectsRider(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleRider))

	resp := httptest.NewRecorder()
	List(&stubOrdersService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestListRejectsBadStatusFilter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=floating", nil)
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	List(&stubOrdersService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestTransitionForwardsActor(t *testing.T) {
	orderID := uuid.New()
	vendorID := uuid.New()
	called := false
	svc := &stubOrdersService{
		transition: func(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error) {
			if input.OrderID != orderID {
				t.Fatalf("unexpected order id %s", input.OrderID)
			}
			if input.Target != enums.OrderStatusConfirmed {
				t.Fatalf("unexpected target %s", input.Target)
			}
			if input.ActorID != vendorID || input.Role != enums.ActorRoleVendor {
				t.Fatalf("actor not forwarded")
			}
			called = true
			return &models.Order{ID: orderID, Status: enums.OrderStatusConfirmed}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/transition", strings.NewReader(`{"target":"confirmed"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withOrderRoute(req, orderID)
	req = req.WithContext(middleware.WithActor(req.Context(), vendorID, enums.ActorRoleVendor))

	resp := httptest.NewRecorder()
	Transition(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !called {
		t.Fatalf("service not invoked")
	}
}

func TestCancelTargetsCancelledStatus(t *testing.T) {
	orderID := uuid.New()
	customerID := uuid.New()
	svc := &stubOrdersService{
		transition: func(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error) {
			if input.Target != enums.OrderStatusCancelled {
				t.Fatalf("expected cancelled target, got %s", input.Target)
			}
			if input.Reason != "changed my mind" {
				t.Fatalf("unexpected reason %q", input.Reason)
			}
			return &models.Order{ID: orderID, Status: enums.OrderStatusCancelled}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	req.Header.Set("Content-Type", "application/json")
	req = withOrderRoute(req, orderID)
	req = req.WithContext(middleware.WithActor(req.Context(), customerID, enums.ActorRoleCustomer))

	resp := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestTransitionRejectsInvalidOrderID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/not-a-uuid/transition", strings.NewReader(`{"target":"confirmed"}`))
	req.Header.Set("Content-Type", "application/json")
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("orderID", "not-a-uuid")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleVendor))

	resp := httptest.NewRecorder()
	Transition(&stubOrdersService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
