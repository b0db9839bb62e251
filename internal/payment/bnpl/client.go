// Package bnpl holds the wire protocol shared by the installment gateways
// (torobpay and snapppay): a bearer token from a password grant and a
// {successful, response, errorData} envelope around every response.
package bnpl

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"adora-payments/internal/money"
	"adora-payments/internal/order"
	"adora-payments/internal/payment"
	"adora-payments/internal/receipt"
	"adora-payments/internal/token"
	"adora-payments/internal/transport"
)

type Envelope struct {
	Successful bool            `json:"successful"`
	Response   json.RawMessage `json:"response"`
	ErrorData  *ErrorData      `json:"errorData"`
}

type ErrorData struct {
	ErrorCode transport.FlexString `json:"errorCode"`
	Message   string               `json:"message"`
}

// TokenResponse is the payload of the verify, settle, revert and cancel
// endpoints.
type TokenResponse struct {
	TransactionID transport.FlexString `json:"transactionId"`
}

type CartItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// CartItems converts order lines to the gateway's unit.
func CartItems(items []order.Item, c money.Currency) []CartItem {
	out := make([]CartItem, 0, len(items))
	for _, it := range items {
		out = append(out, CartItem{
			ID:       it.ProductID,
			Name:     it.Name,
			Count:    it.Quantity,
			Category: it.Category,
			Amount:   money.Scale(money.Round(it.SoldPrice), c),
		})
	}
	return out
}

// Client sends authorized calls for one gateway.
type Client struct {
	Gateway order.Gateway
	Exec    *transport.Executor
	Tokens  *token.Cache
}

// Call sends a bearer-authorized request and unwraps the envelope into out.
// A nil payload sends a GET with query. A response that is not successful
// comes back as a *payment.BusinessError carrying details.
func (c *Client) Call(ctx context.Context, action payment.Action, target string, payload any, query url.Values, out any, details receipt.Details) (json.RawMessage, error) {
	tok, err := c.Tokens.Token(ctx, string(c.Gateway))
	if err != nil {
		return nil, err
	}
	header := http.Header{"Authorization": {"Bearer " + tok}}

	build := transport.Get(target, query, header)
	if payload != nil {
		if build, err = transport.JSON(http.MethodPost, target, payload, header); err != nil {
			return nil, payment.Integrity("encode request", err)
		}
	}

	resp, err := c.Exec.Do(ctx, string(action), build)
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := resp.Decode(&env); err != nil {
		return nil, c.rejected(action, resp, nil, details)
	}
	if !env.Successful || !resp.OK() {
		return nil, c.rejected(action, resp, env.ErrorData, details)
	}

	if out != nil && len(env.Response) > 0 && string(env.Response) != "null" {
		if err := json.Unmarshal(env.Response, out); err != nil {
			return resp.Body, fmt.Errorf("decode %s %s response: %w", c.Gateway, action, err)
		}
	}
	return resp.Body, nil
}

func (c *Client) rejected(action payment.Action, resp *transport.Response, e *ErrorData, details receipt.Details) error {
	be := &payment.BusinessError{
		Gateway:    c.Gateway,
		Action:     action,
		HTTPStatus: resp.StatusCode,
		Details:    details,
		Raw:        resp.Body,
	}
	if e != nil {
		be.Code = e.ErrorCode.String()
		be.Message = e.Message
	}
	if be.Code == "" {
		be.Code = strconv.Itoa(resp.StatusCode)
	}
	if be.Message == "" {
		be.Message = "request rejected by gateway"
	}
	return be
}

// PasswordGrant fetches access tokens with the OAuth password grant.
type PasswordGrant struct {
	URL          string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	Scope        string
	// BasicClient sends the client credentials as HTTP Basic auth instead
	// of form fields.
	BasicClient bool
}

// Fetcher makes one token call per invocation. Retries belong to the cache.
func (g PasswordGrant) Fetcher(exec *transport.Executor) token.Fetcher {
	return token.FetcherFunc(func(ctx context.Context) (string, error) {
		form := url.Values{
			"grant_type": {"password"},
			"username":   {g.Username},
			"password":   {g.Password},
		}
		if g.Scope != "" {
			form.Set("scope", g.Scope)
		}
		header := http.Header{}
		if g.BasicClient {
			creds := base64.StdEncoding.EncodeToString([]byte(g.ClientID + ":" + g.ClientSecret))
			header.Set("Authorization", "Basic "+creds)
		} else {
			form.Set("client_id", g.ClientID)
			form.Set("client_secret", g.ClientSecret)
		}

		resp, err := exec.Do(ctx, "token", transport.Form(g.URL, form, header))
		if err != nil {
			return "", err
		}
		if !resp.OK() {
			return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
		}
		var body struct {
			AccessToken string `json:"access_token"`
		}
		if err := resp.Decode(&body); err != nil {
			return "", fmt.Errorf("decode token response: %w", err)
		}
		return body.AccessToken, nil
	})
}

// RequireToken guards the calls that act on an existing payment session.
func RequireToken(o *order.Order) error {
	if o.PaymentToken == "" {
		return payment.Integrity("order has no payment token", nil)
	}
	return nil
}
