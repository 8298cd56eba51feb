// Package schwab fetches account positions from the Charles Schwab Trader API.
package schwab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BrokerName is the registry key for this adapter.
const BrokerName = "schwab"

// DefaultBaseURL is the Trader API root.
const DefaultBaseURL = "https://api.schwabapi.com/trader/v1"

// Schwab accounts are reported in US dollars.
const accountCurrency = "USD"

const maxResponseSize = 10 << 20

// Balance candidates in order of preference. Schwab has moved the account
// value between these fields across API revisions.
var totalPaths = []string{
	"$.currentBalances.liquidationValue",
	"$.aggregatedBalance.liquidationValue",
	"$.balances.totalAccountValue",
	"$.currentBalances.equity",
}

// Adapter reads one account with positions using a bearer token.
type Adapter struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
	now     func() time.Time
}

// Register adds the Schwab factory to reg.
func Register(reg *broker.Registry) {
	reg.Register(BrokerName, New)
}

// New is the broker.Factory for Schwab accounts.
func New(s broker.Settings, log zerolog.Logger) (broker.Adapter, error) {
	if s.Token == "" {
		return nil, errors.New("schwab access token is required")
	}
	return NewAdapter(s.BaseURL, s.Token, s.HTTPTimeout, log), nil
}

// NewAdapter creates an adapter. An empty baseURL uses DefaultBaseURL.
func NewAdapter(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		log:     log,
		now:     time.Now,
	}
}

// Name returns the broker name.
func (a *Adapter) Name() string { return BrokerName }

// CheckAuth verifies the token against the account numbers endpoint.
func (a *Adapter) CheckAuth(ctx context.Context) error {
	_, _, err := a.get(ctx, "/accounts/accountNumbers", nil)
	return err
}

// Fetch downloads the account with positions and normalizes it.
func (a *Adapter) Fetch(ctx context.Context, account model.BrokerAccount) (*broker.FetchResult, error) {
	endpoint := "/accounts/" + url.PathEscape(account.BrokerAccountID)
	query := url.Values{"fields": {"positions"}}

	doc, header, err := a.get(ctx, endpoint, query)
	if err != nil {
		return nil, err
	}

	asOf := a.now().UTC()
	if d := header.Get("Date"); d != "" {
		if t, perr := http.ParseTime(d); perr == nil {
			asOf = t.UTC()
		}
	}

	raw := []broker.RawDocument{{
		Endpoint:    endpoint,
		ContentType: "application/json",
		Payload:     doc,
		ReceivedAt:  a.now().UTC(),
	}}

	snap, err := Normalize(doc, account.BrokerAccountID, asOf)
	if err != nil {
		return nil, broker.NewParsingError("failed to normalize schwab account", raw, err)
	}

	a.log.Debug().
		Str("account", account.BrokerAccountID).
		Time("as_of", snap.AsOf).
		Int("positions", len(snap.Positions)).
		Msg("schwab account normalized")

	return &broker.FetchResult{Raw: raw, Snapshot: snap}, nil
}

func (a *Adapter) get(ctx context.Context, endpoint string, query url.Values) ([]byte, http.Header, error) {
	u := a.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, broker.NewNetworkError("schwab api unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, broker.NewNetworkError("failed to read schwab response", err)
	}

	if err := classifyStatus(resp, body); err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func classifyStatus(resp *http.Response, body []byte) error {
	status := resp.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("schwab api returned %d", status)
	cause := fmt.Errorf("%s: %s", msg, strings.TrimSpace(string(body)))

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return broker.NewAuthError(msg, cause)
	case status == http.StatusTooManyRequests:
		return broker.NewRateLimitError(msg, retryAfter(resp.Header.Get("Retry-After")), cause)
	case status >= 500:
		return broker.NewNetworkError(msg, cause)
	default:
		raw := []broker.RawDocument{{
			Endpoint:    resp.Request.URL.Path,
			ContentType: resp.Header.Get("Content-Type"),
			Payload:     body,
			ReceivedAt:  time.Now().UTC(),
		}}
		return broker.NewValidationError(msg, raw, cause)
	}
}

// retryAfter reads a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Normalize converts an account document into a snapshot taken at asOf.
// The document is either a single account ({"securitiesAccount": ...}) or
// a list of such entries, in which case accountID selects the entry.
func Normalize(doc []byte, accountID string, asOf time.Time) (broker.NormalizedSnapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return broker.NormalizedSnapshot{}, fmt.Errorf("invalid json: %w", err)
	}

	acct, err := findAccount(root, accountID)
	if err != nil {
		return broker.NormalizedSnapshot{}, err
	}

	total, ok, err := firstDecimal(acct, totalPaths...)
	if err != nil {
		return broker.NormalizedSnapshot{}, fmt.Errorf("account value: %w", err)
	}
	if !ok {
		return broker.NormalizedSnapshot{}, errors.New("account value not present")
	}

	snap := broker.NormalizedSnapshot{
		AsOf:            asOf,
		Currency:        accountCurrency,
		TotalValueLocal: total,
	}

	items, _ := lookup(acct, "$.positions")
	list, _ := items.([]any)
	for i, item := range list {
		pos, err := normalizePosition(item)
		if err != nil {
			return broker.NormalizedSnapshot{}, fmt.Errorf("position %d: %w", i, err)
		}
		snap.Positions = append(snap.Positions, pos)
	}
	return snap, nil
}

func findAccount(root any, accountID string) (any, error) {
	if acct, ok := lookup(root, "$.securitiesAccount"); ok {
		return acct, nil
	}
	entries, ok := root.([]any)
	if !ok {
		return nil, errors.New("securitiesAccount not present")
	}
	for _, e := range entries {
		acct, ok := lookup(e, "$.securitiesAccount")
		if !ok {
			continue
		}
		if id, _ := lookupString(acct, "$.accountNumber"); id == accountID {
			return acct, nil
		}
	}
	return nil, fmt.Errorf("account %s not present in response", accountID)
}

func normalizePosition(item any) (broker.NormalizedPosition, error) {
	symbol, _ := lookupString(item, "$.instrument.symbol")
	if symbol == "" {
		return broker.NormalizedPosition{}, errors.New("instrument symbol missing")
	}
	cusip, _ := lookupString(item, "$.instrument.cusip")
	name, _ := lookupString(item, "$.instrument.description")
	assetType, _ := lookupString(item, "$.instrument.assetType")

	long, _, err := firstDecimal(item, "$.longQuantity")
	if err != nil {
		return broker.NormalizedPosition{}, fmt.Errorf("longQuantity: %w", err)
	}
	short, _, err := firstDecimal(item, "$.shortQuantity")
	if err != nil {
		return broker.NormalizedPosition{}, fmt.Errorf("shortQuantity: %w", err)
	}
	qty := long.Sub(short)

	value, ok, err := firstDecimal(item, "$.marketValue")
	if err != nil {
		return broker.NormalizedPosition{}, fmt.Errorf("marketValue: %w", err)
	}
	if !ok {
		return broker.NormalizedPosition{}, errors.New("marketValue missing")
	}

	price := decimal.Zero
	if !qty.IsZero() {
		price = value.Div(qty).Abs()
	}

	avg, hasAvg, err := firstDecimal(item, "$.averagePrice")
	if err != nil {
		return broker.NormalizedPosition{}, fmt.Errorf("averagePrice: %w", err)
	}
	var costBasis decimal.NullDecimal
	if hasAvg {
		costBasis = decimal.NewNullDecimal(avg.Mul(qty.Abs()))
	}

	pl, hasPL, err := firstDecimal(item, "$.longOpenProfitLoss", "$.currentDayProfitLoss")
	if err != nil {
		return broker.NormalizedPosition{}, fmt.Errorf("profit/loss: %w", err)
	}
	var unrealized decimal.NullDecimal
	if hasPL {
		unrealized = decimal.NewNullDecimal(pl)
	}

	instrumentID := cusip
	if instrumentID == "" {
		instrumentID = symbol
	}

	return broker.NormalizedPosition{
		Instrument: model.ObservedInstrument{
			BrokerInstrumentID: instrumentID,
			Symbol:             symbol,
			Name:               name,
			AssetClass:         assetType,
			Currency:           accountCurrency,
			CUSIP:              cusip,
		},
		Quantity:     qty,
		Price:        price,
		MarketValue:  value,
		CostBasis:    costBasis,
		UnrealizedPL: unrealized,
		Short:        qty.IsNegative(),
	}, nil
}

// lookup evaluates path against v. jsonpath may return either the value or
// a one-element list; the first element is kept.
func lookup(v any, path string) (any, bool) {
	out, err := jsonpath.Get(path, v)
	if err != nil || out == nil {
		return nil, false
	}
	if list, ok := out.([]any); ok && strings.ContainsAny(path, "*[") {
		if len(list) == 0 {
			return nil, false
		}
		out = list[0]
	}
	return out, true
}

func lookupString(v any, path string) (string, bool) {
	out, ok := lookup(v, path)
	if !ok {
		return "", false
	}
	s, ok := out.(string)
	return s, ok
}

// firstDecimal returns the first path that resolves to a number.
func firstDecimal(v any, paths ...string) (decimal.Decimal, bool, error) {
	for _, p := range paths {
		out, ok := lookup(v, p)
		if !ok {
			continue
		}
		d, err := toDecimal(out)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("%s: %w", p, err)
		}
		return d, true, nil
	}
	return decimal.Zero, false, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Zero, fmt.Errorf("not a number: %v", v)
	}
}
