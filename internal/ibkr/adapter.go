package ibkr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ndewijer/portfolio-snapshot/internal/broker"
	"github.com/ndewijer/portfolio-snapshot/internal/model"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BrokerName is the registry key for this adapter.
const BrokerName = "ibkr"

// Provider labels conversion rates taken from Flex statements.
const Provider = "ibkr"

// Adapter turns a Flex statement into a broker snapshot.
type Adapter struct {
	client  Client
	token   string
	queryID int
	log     zerolog.Logger
	now     func() time.Time
}

// Register adds the IBKR factory to reg.
func Register(reg *broker.Registry) {
	reg.Register(BrokerName, New)
}

// New is the broker.Factory for IBKR accounts. It needs a Flex token and query id.
func New(s broker.Settings, log zerolog.Logger) (broker.Adapter, error) {
	if s.Token == "" {
		return nil, errors.New("flex token is required")
	}
	queryID, err := strconv.Atoi(strings.TrimSpace(s.QueryID))
	if err != nil || queryID <= 0 {
		return nil, fmt.Errorf("invalid flex query id %q", s.QueryID)
	}
	return NewAdapter(NewFinanceClient(s.BaseURL, s.HTTPTimeout, log), s.Token, queryID, log), nil
}

// NewAdapter creates an adapter around an existing client.
func NewAdapter(client Client, token string, queryID int, log zerolog.Logger) *Adapter {
	return &Adapter{client: client, token: token, queryID: queryID, log: log, now: time.Now}
}

// Name returns the broker name.
func (a *Adapter) Name() string { return BrokerName }

// Fetch downloads the statement and normalizes the section for account.
func (a *Adapter) Fetch(ctx context.Context, account model.BrokerAccount) (*broker.FetchResult, error) {
	resp, data, err := a.client.RequestFlexReport(ctx, a.token, a.queryID)

	var raw []broker.RawDocument
	if len(data) > 0 {
		raw = []broker.RawDocument{{
			Endpoint:    "GetStatement",
			ContentType: "application/xml",
			Payload:     data,
			ReceivedAt:  a.now().UTC(),
		}}
	}
	if err != nil {
		return nil, classify(err, raw)
	}

	stmt, ok := findStatement(resp, account.BrokerAccountID)
	if !ok {
		return nil, broker.NewValidationError(
			fmt.Sprintf("statement does not contain account %s", account.BrokerAccountID), raw, nil)
	}

	res, err := Normalize(stmt, account.BaseCurrency)
	if err != nil {
		return nil, broker.NewParsingError("failed to normalize flex statement", raw, err)
	}
	res.Raw = raw

	a.log.Debug().
		Str("account", account.BrokerAccountID).
		Time("as_of", res.Snapshot.AsOf).
		Int("positions", len(res.Snapshot.Positions)).
		Int("trades", len(res.Trades)).
		Msg("flex statement normalized")
	return res, nil
}

func classify(err error, raw []broker.RawDocument) error {
	var fe *FlexError
	if errors.As(err, &fe) {
		switch fe.Code {
		case CodeTokenInvalid, CodeTokenExpired, CodeIPRestricted:
			return broker.NewAuthError(fe.Message, err)
		case CodeTooManyRequests:
			return broker.NewRateLimitError(fe.Message, 0, err)
		case CodeServiceUnavailable, 1004, 1005, 1006, 1007, 1008, 1009, CodeGenerationPending, CodeStatementNotReady:
			return broker.NewNetworkError(fe.Message, err)
		default:
			return broker.NewValidationError(fe.Message, raw, err)
		}
	}
	if errors.Is(err, ErrMalformedResponse) {
		return broker.NewParsingError("malformed flex response", raw, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return broker.NewNetworkError("flex web service unreachable", err)
}

func findStatement(resp FlexQueryResponse, accountID string) (FlexStatement, bool) {
	for _, s := range resp.FlexStatements.FlexStatement {
		if s.AccountID == accountID {
			return s, true
		}
	}
	return FlexStatement{}, false
}

// Normalize converts one Flex statement into a FetchResult without raw
// documents. The as-of time is the statement's toDate at 00:00 UTC; the
// total is the equity summary in base currency for that date, falling back
// to the sum of position values converted with fxRateToBase.
func Normalize(stmt FlexStatement, defaultCurrency string) (*broker.FetchResult, error) {
	asOf, err := parseFlexDate(stmt.ToDate)
	if err != nil {
		return nil, fmt.Errorf("statement toDate: %w", err)
	}

	currency := stmt.AccountInformation.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	res := &broker.FetchResult{
		Snapshot: broker.NormalizedSnapshot{AsOf: asOf, Currency: currency},
	}

	fallbackTotal := decimal.Zero
	for _, op := range stmt.OpenPositions.OpenPosition {
		if op.AccountID != "" && op.AccountID != stmt.AccountID {
			continue
		}
		pos, valueInBase, err := normalizePosition(op)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", op.Symbol, err)
		}
		res.Snapshot.Positions = append(res.Snapshot.Positions, pos)
		fallbackTotal = fallbackTotal.Add(valueInBase)
	}

	total, found, err := equityTotal(stmt, asOf)
	if err != nil {
		return nil, err
	}
	if !found {
		total = fallbackTotal
	}
	res.Snapshot.TotalValueLocal = total

	for _, cr := range stmt.ConversionRates.ConversionRate {
		rate, err := parseDecimal(cr.Rate)
		if err != nil {
			return nil, fmt.Errorf("conversion rate %s/%s: %w", cr.FromCurrency, cr.ToCurrency, err)
		}
		// IBKR reports -1 when no rate was available.
		if !rate.IsPositive() || cr.FromCurrency == cr.ToCurrency {
			continue
		}
		day, err := parseFlexDate(cr.ReportDate)
		if err != nil {
			return nil, fmt.Errorf("conversion rate date: %w", err)
		}
		res.FxRates = append(res.FxRates, model.FxRate{
			AsOf:           day,
			SourceCurrency: cr.FromCurrency,
			TargetCurrency: cr.ToCurrency,
			Rate:           rate,
			Provider:       Provider,
		})
	}

	for _, tr := range stmt.Trades.Trade {
		if tr.AccountID != "" && tr.AccountID != stmt.AccountID {
			continue
		}
		trade, err := normalizeTrade(tr)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tr.TradeID, err)
		}
		res.Trades = append(res.Trades, trade)
	}

	return res, nil
}

func normalizePosition(op OpenPosition) (broker.NormalizedPosition, decimal.Decimal, error) {
	qty, err := parseDecimal(op.Position)
	if err != nil {
		return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("position: %w", err)
	}
	price, err := parseDecimal(op.MarkPrice)
	if err != nil {
		return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("markPrice: %w", err)
	}
	value, err := parseDecimal(op.PositionValue)
	if err != nil {
		return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("positionValue: %w", err)
	}
	fxToBase := decimal.NewFromInt(1)
	if op.FxRateToBase != "" {
		if fxToBase, err = parseDecimal(op.FxRateToBase); err != nil {
			return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("fxRateToBase: %w", err)
		}
	}
	costBasis, err := parseNullDecimal(op.CostBasisMoney)
	if err != nil {
		return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("costBasisMoney: %w", err)
	}
	unrealized, err := parseNullDecimal(op.FifoPnlUnrealized)
	if err != nil {
		return broker.NormalizedPosition{}, decimal.Zero, fmt.Errorf("fifoPnlUnrealized: %w", err)
	}

	instrumentID := op.Conid
	if instrumentID == "" {
		instrumentID = op.Symbol
	}

	return broker.NormalizedPosition{
		Instrument: model.ObservedInstrument{
			BrokerInstrumentID: instrumentID,
			Symbol:             op.Symbol,
			Name:               op.Description,
			AssetClass:         op.AssetCategory,
			Currency:           op.Currency,
			ISIN:               op.Isin,
			CUSIP:              op.Cusip,
		},
		Quantity:     qty,
		Price:        price,
		MarketValue:  value,
		CostBasis:    costBasis,
		UnrealizedPL: unrealized,
		Short:        strings.EqualFold(op.Side, "Short") || qty.IsNegative(),
	}, value.Mul(fxToBase), nil
}

func equityTotal(stmt FlexStatement, asOf time.Time) (decimal.Decimal, bool, error) {
	entries := stmt.EquitySummaryInBase.Entries
	if len(entries) == 0 {
		return decimal.Zero, false, nil
	}
	pick := entries[len(entries)-1]
	for _, e := range entries {
		if d, err := parseFlexDate(e.ReportDate); err == nil && d.Equal(asOf) {
			pick = e
			break
		}
	}
	total, err := parseDecimal(pick.Total)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("equity summary total: %w", err)
	}
	return total, true, nil
}

func normalizeTrade(tr Trade) (broker.NormalizedTrade, error) {
	id := tr.TradeID
	if id == "" {
		id = tr.TransactionID
	}
	if id == "" {
		return broker.NormalizedTrade{}, errors.New("trade has no identifier")
	}

	when := tr.DateTime
	if when == "" {
		when = tr.TradeDate
	}
	ts, err := parseFlexDateTime(when)
	if err != nil {
		return broker.NormalizedTrade{}, err
	}
	qty, err := parseDecimal(tr.Quantity)
	if err != nil {
		return broker.NormalizedTrade{}, fmt.Errorf("quantity: %w", err)
	}
	price, err := parseDecimal(tr.TradePrice)
	if err != nil {
		return broker.NormalizedTrade{}, fmt.Errorf("tradePrice: %w", err)
	}
	amount, err := parseDecimal(tr.Proceeds)
	if err != nil {
		return broker.NormalizedTrade{}, fmt.Errorf("proceeds: %w", err)
	}

	instrumentID := tr.Conid
	if instrumentID == "" {
		instrumentID = tr.Symbol
	}

	return broker.NormalizedTrade{
		BrokerTradeID: BrokerName + ":" + id,
		Instrument: model.ObservedInstrument{
			BrokerInstrumentID: instrumentID,
			Symbol:             tr.Symbol,
			Name:               tr.Description,
			AssetClass:         tr.AssetCategory,
			Currency:           tr.Currency,
			ISIN:               tr.Isin,
			CUSIP:              tr.Cusip,
		},
		TradeTime: ts,
		Quantity:  qty,
		Price:     price,
		Amount:    amount,
		Currency:  tr.Currency,
	}, nil
}

var flexDateLayouts = []string{"20060102", "2006-01-02", "01/02/2006"}

var flexDateTimeLayouts = []string{
	"20060102;150405",
	"2006-01-02;15:04:05",
	"2006-01-02 15:04:05",
	"20060102 150405",
}

func parseFlexDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range flexDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseFlexDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range flexDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return parseFlexDate(s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
