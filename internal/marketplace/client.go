package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"salesbot/internal/config"
	"salesbot/internal/logbus"
	"salesbot/internal/model"
)

// Client is a typed accessor over the marketplace REST API.
type Client struct {
	cfg     config.MarketplaceConfig
	bus     *logbus.Bus
	http    *resty.Client
	limiter *rate.Limiter
}

func New(cfg config.MarketplaceConfig, bus *logbus.Bus) *Client {
	limit, burst := rate.Limit(cfg.QPS), cfg.Burst
	if cfg.QPS <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		cfg:     cfg,
		bus:     bus,
		limiter: rate.NewLimiter(limit, burst),
	}

	c.http = resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout()).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.Retry.Count).
		SetRetryWaitTime(cfg.Retry.Wait()).
		SetRetryMaxWaitTime(cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
		// req.URL is still the unexpanded path here; the token lives in
		// the query params and is not logged.
		c.bus.Log("debug", "marketplace request", map[string]any{
			"method": req.Method,
			"url":    req.URL,
		})
		return nil
	})

	return c
}

type RefreshRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
	UserID       int64  `json:"user_id,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type refreshTokenReq struct {
	GrantType string `json:"grant_type"`
	RefreshRequest
}

// Results are decoded one by one so a single malformed order cannot fail
// the whole page.
type searchResp struct {
	Results []json.RawMessage `json:"results"`
}

// RefreshToken exchanges the configured refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, in RefreshRequest) (TokenResponse, error) {
	var out TokenResponse
	var apiErr apiErrorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshTokenReq{GrantType: "refresh_token", RefreshRequest: in}).
		SetResult(&out).
		SetError(&apiErr).
		ForceContentType("application/json").
		Post("/oauth/token")
	if err := checkResponse("refresh token", resp, err, apiErr); err != nil {
		return TokenResponse{}, err
	}
	if out.AccessToken == "" {
		return TokenResponse{}, &APIError{Op: "refresh token", StatusCode: resp.StatusCode(), Message: "empty access_token"}
	}
	return out, nil
}

// Probe checks that cred is still accepted by the API.
func (c *Client) Probe(ctx context.Context, cred model.Credential) error {
	var apiErr apiErrorBody
	resp, err := c.authed(ctx, cred).
		SetError(&apiErr).
		Get("/users/me")
	return checkResponse("probe credential", resp, err, apiErr)
}

// SearchPaidOrders returns the seller's paid orders in the API's native order.
func (c *Client) SearchPaidOrders(ctx context.Context, cred model.Credential, sellerID string) ([]model.RawOrder, error) {
	var out searchResp
	var apiErr apiErrorBody
	resp, err := c.authed(ctx, cred).
		SetQueryParams(map[string]string{
			"seller":       sellerID,
			"order.status": "paid",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Get("/orders/search")
	if err := checkResponse("search orders", resp, err, apiErr); err != nil {
		return nil, err
	}
	orders := make([]model.RawOrder, 0, len(out.Results))
	for i, raw := range out.Results {
		var o model.RawOrder
		if err := json.Unmarshal(raw, &o); err != nil {
			c.bus.Log("warn", "skipping undecodable order", map[string]any{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		if err := o.Validate(); err != nil {
			c.bus.Log("warn", "skipping malformed order", map[string]any{
				"orderId": o.ID,
				"error":   err.Error(),
			})
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *Client) GetOrder(ctx context.Context, cred model.Credential, orderID string) (model.RawOrder, error) {
	var out model.RawOrder
	var apiErr apiErrorBody
	resp, err := c.authed(ctx, cred).
		SetPathParam("id", orderID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/orders/{id}")
	if err := checkResponse("get order "+orderID, resp, err, apiErr); err != nil {
		var ae *APIError
		if errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound {
			return model.RawOrder{}, errors.Join(ErrOrderNotFound, err)
		}
		return model.RawOrder{}, err
	}
	if err := out.Validate(); err != nil {
		return model.RawOrder{}, &APIError{Op: "get order " + orderID, StatusCode: resp.StatusCode(), Message: err.Error()}
	}
	return out, nil
}

func (c *Client) GetShipment(ctx context.Context, cred model.Credential, shipmentID int64) (model.Shipment, error) {
	var out model.Shipment
	var apiErr apiErrorBody
	id := strconv.FormatInt(shipmentID, 10)
	resp, err := c.authed(ctx, cred).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/shipments/{id}")
	if err := checkResponse("get shipment "+id, resp, err, apiErr); err != nil {
		return model.Shipment{}, err
	}
	return out, nil
}

func (c *Client) authed(ctx context.Context, cred model.Credential) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", cred.AccessToken).
		SetAuthToken(cred.AccessToken).
		ForceContentType("application/json")
}

func checkResponse(op string, resp *resty.Response, err error, body apiErrorBody) error {
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if resp == nil {
		return &APIError{Op: op, Err: errors.New("no response")}
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &APIError{
			Op:         op,
			StatusCode: resp.StatusCode(),
			Code:       body.Error,
			Message:    body.Message,
		}
	}
	return nil
}
