package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesbot/internal/config"
	"salesbot/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.MarketplaceConfig{BaseURL: srv.URL, TimeoutMs: 2000}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSearchPaidOrdersSendsQueryAndDecodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders/search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("seller") != "42" || q.Get("order.status") != "paid" || q.Get("access_token") != "tok" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad query " + r.URL.RawQuery})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"results": []map[string]any{
				{
					"id":           2000001,
					"date_created": "2025-03-01T10:00:00.000-03:00",
					"total_amount": 59.9,
					"order_items": []map[string]any{{
						"item":       map[string]any{"title": "Mug", "variation_attributes": []map[string]any{{"name": "Color", "value_name": "Blue"}}},
						"quantity":   1,
						"unit_price": 59.9,
					}},
					"buyer":    map[string]any{"nickname": "BUYER1"},
					"shipping": map[string]any{"id": 777},
				},
				{"id": 0, "date_created": "2025-03-01T10:00:00.000-03:00"},
			},
		})
	})
	c := newTestClient(t, mux)

	orders, err := c.SearchPaidOrders(context.Background(), model.Credential{AccessToken: "tok"}, "42")
	if err != nil {
		t.Fatalf("SearchPaidOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected malformed order to be skipped, got %d orders", len(orders))
	}
	o := orders[0]
	if o.ID != 2000001 || o.ShipmentID() != 777 || o.Buyer.Nickname != "BUYER1" {
		t.Fatalf("unexpected order %+v", o)
	}
	if o.TotalAmount.StringFixed(2) != "59.90" {
		t.Fatalf("unexpected total %s", o.TotalAmount)
	}
	if item, _ := o.FirstItem(); item.Item.VariationAttributes[0].ValueName != "Blue" {
		t.Fatalf("unexpected item %+v", item)
	}
}

func TestSearchPaidOrdersSkipsUndecodableOrders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"id":1,"date_created":"2025-03-01T10:00:00.000-03:00","order_items":[]},
			{"id":2,"date_created":""},
			{"id":"three","date_created":"2025-03-01T11:00:00.000-03:00"},
			{"id":4,"date_created":"2025-03-01T12:00:00.000-03:00","total_amount":"oops"},
			{"id":5,"date_created":"2025-03-01T13:00:00.000-03:00"}
		]}`))
	}))

	orders, err := c.SearchPaidOrders(context.Background(), model.Credential{AccessToken: "tok"}, "42")
	if err != nil {
		t.Fatalf("one bad order must not fail the search: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != 1 || orders[1].ID != 5 {
		t.Fatalf("expected orders 1 and 5 kept, got %+v", orders)
	}
}

func TestSearchPaidOrdersAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "invalid access token", "error": "forbidden", "status": 403})
	}))

	_, err := c.SearchPaidOrders(context.Background(), model.Credential{AccessToken: "bad"}, "42")
	if !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusForbidden || ae.Message != "invalid access token" {
		t.Fatalf("unexpected api error %#v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Order not found", "error": "not_found", "status": 404})
	}))

	_, err := c.GetOrder(context.Background(), model.Credential{AccessToken: "tok"}, "999")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetShipment(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shipments/555" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 555, "logistic_type": "self_service"})
	}))

	sh, err := c.GetShipment(context.Background(), model.Credential{AccessToken: "tok"}, 555)
	if err != nil {
		t.Fatalf("GetShipment: %v", err)
	}
	if sh.LogisticType != "self_service" {
		t.Fatalf("unexpected shipment %+v", sh)
	}
}

func TestRefreshTokenPostsGrant(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["grant_type"] != "refresh_token" || body["client_id"] != "cid" || body["client_secret"] != "sec" || body["refresh_token"] != "rt" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "APP_USR-new", "expires_in": 21600})
	}))

	tok, err := c.RefreshToken(context.Background(), RefreshRequest{ClientID: "cid", ClientSecret: "sec", RefreshToken: "rt"})
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if tok.AccessToken != "APP_USR-new" {
		t.Fatalf("unexpected token %+v", tok)
	}

	if _, err := c.RefreshToken(context.Background(), RefreshRequest{ClientID: "cid"}); !errors.Is(err, ErrAPI) {
		t.Fatalf("expected ErrAPI on rejected grant, got %v", err)
	}
}

func TestProbeNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c := New(config.MarketplaceConfig{BaseURL: url, TimeoutMs: 500}, nil)

	err := c.Probe(context.Background(), model.Credential{AccessToken: "tok"})
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != 0 || ae.Err == nil {
		t.Fatalf("expected transport APIError, got %v", err)
	}
}
