package request

// CreateGlobalInstrumentRequest is the request body for creating a global instrument.
type CreateGlobalInstrumentRequest struct {
	Name       string  `json:"name"`       // Name is the display name. Required.
	Symbol     string  `json:"symbol"`     // Symbol is the preferred ticker.
	AssetClass string  `json:"assetClass"` // AssetClass is a free-form class such as "STK".
	ISIN       *string `json:"isin"`       // ISIN optionally enables heuristic mapping.
}

// MapInstrumentRequest is the request body for linking a broker instrument
// to a global instrument.
type MapInstrumentRequest struct {
	InstrumentID       string  `json:"instrumentId"`       // InstrumentID is the broker instrument UUID. Required.
	GlobalInstrumentID string  `json:"globalInstrumentId"` // GlobalInstrumentID is the target UUID. Required.
	Source             string  `json:"source"`             // Source defaults to "manual".
	Confidence         *string `json:"confidence"`         // Confidence is an optional decimal in [0, 1].
	Replace            bool    `json:"replace"`            // Replace moves an already-mapped instrument.
}
