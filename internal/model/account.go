package model

import "time"

// BrokerAccount is a configured account at a broker. It is reference data
// registered out of band and never modified by the capture pipeline.
type BrokerAccount struct {
	ID              string    `json:"id"`
	Broker          string    `json:"broker"`
	BrokerAccountID string    `json:"brokerAccountId"`
	DisplayName     string    `json:"displayName"`
	BaseCurrency    string    `json:"baseCurrency"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Ref returns the "broker/account" label used in logs and error summaries.
func (a BrokerAccount) Ref() string {
	return a.Broker + "/" + a.BrokerAccountID
}
