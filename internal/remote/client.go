package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"autolender/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const totalHeader = "X-Total"

type versionInfo struct {
	BuildVersion string `json:"buildVersion"`
}

// ClientOptions parameterise the marketplace API client.
type ClientOptions struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	PageSize  int
	Transport http.RoundTripper
}

// Client talks to the marketplace API. Every request goes through the Caller.
type Client struct {
	baseURL   string
	userAgent string
	pageSize  int
	http      *http.Client
	caller    *Caller
	logger    zerolog.Logger
}

// NewClient constructs a Client.
func NewClient(opts ClientOptions, caller *Caller, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "autolender"
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: userAgent,
		pageSize:  pageSize,
		http: &http.Client{
			Timeout:   timeout,
			Transport: requestIDRoundTripper{next: bearerRoundTripper{next: base, token: opts.Token}},
		},
		caller: caller,
		logger: logger.With().Str("component", "remote_client").Logger(),
	}
}

// Caller returns the retrying caller used by c.
func (c *Client) Caller() *Caller {
	return c.caller
}

// Loans lists the primary marketplace.
func (c *Client) Loans(sel *Select) *Reader[model.Loan] {
	return list[model.Loan](c, "loans", "/loans/marketplace", sel)
}

// Participations lists the secondary marketplace.
func (c *Client) Participations(sel *Select) *Reader[model.Participation] {
	return list[model.Participation](c, "participations", "/smp/participations", sel)
}

// Investments lists the account's own positions.
func (c *Client) Investments(sel *Select) *Reader[model.Investment] {
	return list[model.Investment](c, "investments", "/portfolio/investments", sel)
}

// Loan fetches a single loan.
func (c *Client) Loan(ctx context.Context, id int64) (model.Loan, error) {
	return fetch[model.Loan](ctx, c, "loan", fmt.Sprintf("/loans/%d", id))
}

// LastPublishedLoan fetches the most recently published loan.
func (c *Client) LastPublishedLoan(ctx context.Context) (model.LastPublishedLoan, error) {
	return fetch[model.LastPublishedLoan](ctx, c, "last_published_loan", "/loans/last-published")
}

// Statistics fetches the portfolio overview.
func (c *Client) Statistics(ctx context.Context) (model.Statistics, error) {
	return fetch[model.Statistics](ctx, c, "statistics", "/portfolio/statistics")
}

// Wallet fetches balance and blocked amounts.
func (c *Client) Wallet(ctx context.Context) (model.Wallet, error) {
	return fetch[model.Wallet](ctx, c, "wallet", "/users/me/wallet")
}

// Restrictions fetches the account's restrictions.
func (c *Client) Restrictions(ctx context.Context) (model.Restrictions, error) {
	r, err := fetch[model.Restrictions](ctx, c, "restrictions", "/users/me/restrictions")
	if err != nil {
		return model.Restrictions{}, err
	}
	r.RequestedAt = time.Now().UTC()
	return r, nil
}

// Version returns the API build version; used as a liveness probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	v, err := fetch[versionInfo](ctx, c, "version", "/version")
	if err != nil {
		return "", err
	}
	return v.BuildVersion, nil
}

// Invest places amount into a primary-marketplace loan.
func (c *Client) Invest(ctx context.Context, loanID int64, amount decimal.Decimal) (Outcome, error) {
	payload := map[string]any{"loanId": loanID, "amount": amount}
	return OutcomeOf(c.send(ctx, "invest", http.MethodPost, "/marketplace/investment", payload))
}

// Purchase buys a secondary-marketplace participation.
func (c *Client) Purchase(ctx context.Context, p model.Participation) (Outcome, error) {
	payload := map[string]any{"amount": p.Price}
	path := fmt.Sprintf("/smp/participations/%d/purchase", p.ID)
	return OutcomeOf(c.send(ctx, "purchase", http.MethodPost, path, payload))
}

// Sell offers an investment on the secondary marketplace.
func (c *Client) Sell(ctx context.Context, inv model.Investment) (Outcome, error) {
	payload := map[string]any{
		"investmentId":       inv.ID,
		"remainingPrincipal": inv.RemainingPrincipal,
		"price":              inv.SmpPrice,
	}
	return OutcomeOf(c.send(ctx, "sell", http.MethodPost, "/smp/offers", payload))
}

func fetch[T any](ctx context.Context, c *Client, op, path string) (T, error) {
	return Call(ctx, c.caller, op, func(ctx context.Context) (T, error) {
		var out T
		_, err := c.get(ctx, op, path, nil, &out)
		return out, err
	})
}

func list[T any](c *Client, op, path string, sel *Select) *Reader[T] {
	return NewReader(func(ctx context.Context, offset, limit int) (Page[T], error) {
		return Call(ctx, c.caller, op, func(ctx context.Context) (Page[T], error) {
			q := url.Values{}
			sel.Apply(q)
			q.Set("offset", strconv.Itoa(offset))
			q.Set("limit", strconv.Itoa(limit))

			var items []T
			header, err := c.get(ctx, op, path, q, &items)
			if err != nil {
				return Page[T]{}, err
			}
			total := -1
			if raw := header.Get(totalHeader); raw != "" {
				if n, convErr := strconv.Atoi(raw); convErr == nil {
					total = n
				}
			}
			return Page[T]{Items: items, Total: total}, nil
		})
	}, c.pageSize)
}

func (c *Client) send(ctx context.Context, op, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", op, err)
	}
	return Do(ctx, c.caller, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create %s request: %w", op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		_, err = c.do(req, op, nil)
		return err
	})
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out any) (http.Header, error) {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) (http.Header, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		rerr := classifyStatus(op, resp.StatusCode, reasonFrom(raw))
		c.logger.Debug().Str("operation", op).Int("status", resp.StatusCode).Str("reason", rerr.Reason).Msg("remote refused request")
		return resp.Header, rerr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.Header, classifyTransport(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return resp.Header, nil
}

func reasonFrom(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
