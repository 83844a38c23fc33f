package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mockMarket is a tiny stand-in for the marketplace API: one seller, an
// access token that rotates on refresh, and a new paid order every tick.
type mockMarket struct {
	mu        sync.Mutex
	token     string
	issued    time.Time
	ttl       time.Duration
	orders    []map[string]any
	shipments map[int64]string
	nextID    int64
}

var products = []struct {
	title   string
	price   float64
	variant []map[string]any
}{
	{"Ceramic mug 350ml", 59.9, []map[string]any{{"name": "Color", "value_name": "Blue"}}},
	{"Cotton t-shirt", 89.0, []map[string]any{{"name": "Color", "value_name": "Black"}, {"name": "Size", "value_name": "M"}}},
	{"Phone case", 39.5, nil},
}

var logistics = []string{"self_service", "drop_off", "fulfillment", ""}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	every := flag.Duration("every", 90*time.Second, "interval between generated sales")
	ttl := flag.Duration("token-ttl", 10*time.Minute, "access token lifetime")
	flag.Parse()

	m := &mockMarket{
		token:     "APP_USR-" + randString(16),
		issued:    time.Now(),
		ttl:       *ttl,
		shipments: make(map[int64]string),
		nextID:    2000000001,
	}
	for i := 0; i < 3; i++ {
		m.addOrder(time.Now().Add(-time.Duration(3-i) * time.Hour))
	}
	go func() {
		t := time.NewTicker(*every)
		defer t.Stop()
		for range t.C {
			m.addOrder(time.Now())
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/oauth/token", m.handleToken)
	mux.HandleFunc("/users/me", m.authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 123456789, "nickname": "MOCKSELLER"})
	}))
	mux.HandleFunc("/orders/search", m.authed(m.handleSearch))
	mux.HandleFunc("/orders/", m.authed(m.handleOrder))
	mux.HandleFunc("/shipments/", m.authed(m.handleShipment))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock marketplace listening on %s (token %s)", *addr, m.token)
	log.Fatal(srv.ListenAndServe())
}

func (m *mockMarket) addOrder(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := products[rand.Intn(len(products))]
	qty := rand.Intn(3) + 1
	id := m.nextID
	m.nextID++
	shipID := id + 40000000000
	m.shipments[shipID] = logistics[rand.Intn(len(logistics))]

	m.orders = append(m.orders, map[string]any{
		"id":           id,
		"status":       "paid",
		"date_created": at.Format("2006-01-02T15:04:05.000-07:00"),
		"total_amount": p.price * float64(qty),
		"order_items": []map[string]any{{
			"item": map[string]any{
				"id":                   "MLB" + strconv.FormatInt(id%100000, 10),
				"title":                p.title,
				"variation_attributes": p.variant,
			},
			"quantity":   qty,
			"unit_price": p.price,
		}},
		"buyer":    map[string]any{"id": rand.Int63n(900000000) + 100000000, "nickname": "BUYER" + strings.ToUpper(randString(4))},
		"shipping": map[string]any{"id": shipID},
	})
	log.Printf("mock sale %d created", id)
}

func (m *mockMarket) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["grant_type"] != "refresh_token" || body["refresh_token"] == "" || body["refresh_token"] == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "message": "invalid refresh token", "status": 400})
		return
	}

	m.mu.Lock()
	m.token = "APP_USR-" + randString(16)
	m.issued = time.Now()
	token := m.token
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"token_type":    "Bearer",
		"expires_in":    int(m.ttl.Seconds()),
		"refresh_token": body["refresh_token"],
	})
}

func (m *mockMarket) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		got := r.URL.Query().Get("access_token")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		m.mu.Lock()
		ok := got == m.token && time.Since(m.issued) < m.ttl
		m.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized", "message": "invalid access token", "status": 401})
			return
		}
		next(w, r)
	}
}

func (m *mockMarket) handleSearch(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	results := append([]map[string]any(nil), m.orders...)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   r.URL.Query().Get("seller"),
		"results": results,
		"paging":  map[string]any{"total": len(results), "offset": 0, "limit": 51},
	})
}

func (m *mockMarket) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/orders/"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request", "message": "invalid order id", "status": 400})
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o["id"] == id {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "Order not found", "status": 404})
}

func (m *mockMarket) handleShipment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/shipments/"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request", "message": "invalid shipment id", "status": 400})
		return
	}
	m.mu.Lock()
	logistic, ok := m.shipments[id]
	m.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": "Shipment not found", "status": 404})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "ready_to_ship", "logistic_type": logistic})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
