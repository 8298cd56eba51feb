package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a broker-specific security reference.
type Instrument struct {
	ID                 string    `json:"id"`
	Broker             string    `json:"broker"`
	BrokerInstrumentID string    `json:"brokerInstrumentId"`
	Symbol             string    `json:"symbol"`
	Name               string    `json:"name"`
	AssetClass         string    `json:"assetClass"`
	Currency           string    `json:"currency"`
	ISIN               *string   `json:"isin,omitempty"`
	CUSIP              *string   `json:"cusip,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ObservedInstrument is an instrument as a broker payload reports it.
type ObservedInstrument struct {
	BrokerInstrumentID string
	Symbol             string
	Name               string
	AssetClass         string
	Currency           string
	ISIN               string
	CUSIP              string
}

// GlobalInstrument is a broker-independent identity unifying the same
// real-world security across brokers.
type GlobalInstrument struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Symbol     string    `json:"symbol"`
	AssetClass string    `json:"assetClass"`
	ISIN       *string   `json:"isin,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MappingSource records who asserted an instrument mapping.
type MappingSource string

const (
	MappingSourceManual    MappingSource = "manual"
	MappingSourceHeuristic MappingSource = "heuristic"
	MappingSourceBroker    MappingSource = "broker"
)

// Valid reports whether s is one of the known mapping sources.
func (s MappingSource) Valid() bool {
	switch s {
	case MappingSourceManual, MappingSourceHeuristic, MappingSourceBroker:
		return true
	}
	return false
}

// InstrumentMapping links an Instrument to at most one GlobalInstrument.
type InstrumentMapping struct {
	ID                 string              `json:"id"`
	InstrumentID       string              `json:"instrumentId"`
	GlobalInstrumentID string              `json:"globalInstrumentId"`
	Source             MappingSource       `json:"source"`
	Confidence         decimal.NullDecimal `json:"confidence"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}
