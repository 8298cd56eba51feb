package ibkr

import "encoding/xml"

// FlexRequestResponse is the FlexStatementResponse document returned by
// SendRequest, and by GetStatement while a statement is not ready or on error.
type FlexRequestResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Timestamp     string   `xml:"timestamp,attr"`
	Status        string   `xml:"Status"`        // Success or Fail
	ReferenceCode string   `xml:"ReferenceCode"` // Code to download the requested statement
	URL           string   `xml:"Url"`           // URL to download statement
	ErrorCode     *int     `xml:"ErrorCode"`
	ErrorMessage  *string  `xml:"ErrorMessage"`
}

// FlexQueryResponse is a generated Flex statement. Numeric attributes are
// kept as strings and parsed into decimals during normalization so no
// precision is lost.
type FlexQueryResponse struct {
	XMLName        xml.Name `xml:"FlexQueryResponse"`
	QueryName      string   `xml:"queryName,attr"`
	Type           string   `xml:"type,attr"`
	FlexStatements struct {
		Count         string          `xml:"count,attr"`
		FlexStatement []FlexStatement `xml:"FlexStatement"`
	} `xml:"FlexStatements"`
}

// FlexStatement holds the sections of one account's statement.
type FlexStatement struct {
	AccountID     string `xml:"accountId,attr"`
	FromDate      string `xml:"fromDate,attr"`
	ToDate        string `xml:"toDate,attr"`
	Period        string `xml:"period,attr"`
	WhenGenerated string `xml:"whenGenerated,attr"`

	AccountInformation struct {
		AccountID string `xml:"accountId,attr"`
		Currency  string `xml:"currency,attr"`
		Name      string `xml:"name,attr"`
	} `xml:"AccountInformation"`

	OpenPositions struct {
		OpenPosition []OpenPosition `xml:"OpenPosition"`
	} `xml:"OpenPositions"`

	EquitySummaryInBase struct {
		Entries []EquitySummary `xml:"EquitySummaryByReportDateInBase"`
	} `xml:"EquitySummaryInBase"`

	ConversionRates struct {
		ConversionRate []ConversionRate `xml:"ConversionRate"`
	} `xml:"ConversionRates"`

	Trades struct {
		Trade []Trade `xml:"Trade"`
	} `xml:"Trades"`
}

// OpenPosition is one holding at the statement date.
type OpenPosition struct {
	AccountID         string `xml:"accountId,attr"`
	Currency          string `xml:"currency,attr"`
	FxRateToBase      string `xml:"fxRateToBase,attr"`
	AssetCategory     string `xml:"assetCategory,attr"`
	Symbol            string `xml:"symbol,attr"`
	Description       string `xml:"description,attr"`
	Conid             string `xml:"conid,attr"`
	Isin              string `xml:"isin,attr"`
	Cusip             string `xml:"cusip,attr"`
	ReportDate        string `xml:"reportDate,attr"`
	Position          string `xml:"position,attr"`
	MarkPrice         string `xml:"markPrice,attr"`
	PositionValue     string `xml:"positionValue,attr"`
	CostBasisMoney    string `xml:"costBasisMoney,attr"`
	FifoPnlUnrealized string `xml:"fifoPnlUnrealized,attr"`
	Side              string `xml:"side,attr"`
}

// EquitySummary is the account's net asset value in base currency on a report date.
type EquitySummary struct {
	ReportDate string `xml:"reportDate,attr"`
	Currency   string `xml:"currency,attr"`
	Total      string `xml:"total,attr"`
}

// ConversionRate is IBKR's daily rate from a currency into the base currency.
type ConversionRate struct {
	ReportDate   string `xml:"reportDate,attr"`
	FromCurrency string `xml:"fromCurrency,attr"`
	ToCurrency   string `xml:"toCurrency,attr"`
	Rate         string `xml:"rate,attr"`
}

// Trade is one execution reported in the statement period.
type Trade struct {
	AccountID     string `xml:"accountId,attr"`
	Currency      string `xml:"currency,attr"`
	AssetCategory string `xml:"assetCategory,attr"`
	Symbol        string `xml:"symbol,attr"`
	Description   string `xml:"description,attr"`
	Conid         string `xml:"conid,attr"`
	Isin          string `xml:"isin,attr"`
	Cusip         string `xml:"cusip,attr"`
	TradeID       string `xml:"tradeID,attr"`
	TransactionID string `xml:"transactionID,attr"`
	DateTime      string `xml:"dateTime,attr"`
	TradeDate     string `xml:"tradeDate,attr"`
	Quantity      string `xml:"quantity,attr"`
	TradePrice    string `xml:"tradePrice,attr"`
	Proceeds      string `xml:"proceeds,attr"`
	BuySell       string `xml:"buySell,attr"`
}
