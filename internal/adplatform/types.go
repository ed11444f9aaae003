package adplatform

// Wire types for the uploadClickConversions REST call.

type uploadRequest struct {
	Conversions    []clickConversion `json:"conversions"`
	PartialFailure bool              `json:"partialFailure"`
	ValidateOnly   bool              `json:"validateOnly,omitempty"`
}

type clickConversion struct {
	Gclid              string           `json:"gclid,omitempty"`
	Gbraid             string           `json:"gbraid,omitempty"`
	Wbraid             string           `json:"wbraid,omitempty"`
	ConversionAction   string           `json:"conversionAction"`
	ConversionDateTime string           `json:"conversionDateTime"`
	ConversionValue    float64          `json:"conversionValue"`
	CurrencyCode       string           `json:"currencyCode"`
	OrderID            string           `json:"orderId,omitempty"`
	UserIdentifiers    []userIdentifier `json:"userIdentifiers,omitempty"`
}

type userIdentifier struct {
	HashedEmail       string `json:"hashedEmail,omitempty"`
	HashedPhoneNumber string `json:"hashedPhoneNumber,omitempty"`
}

type uploadResponse struct {
	PartialFailureError *rpcStatus         `json:"partialFailureError,omitempty"`
	Results             []conversionResult `json:"results"`
}

// conversionResult is empty for a position that failed.
type conversionResult struct {
	Gclid              string `json:"gclid,omitempty"`
	Gbraid             string `json:"gbraid,omitempty"`
	Wbraid             string `json:"wbraid,omitempty"`
	ConversionAction   string `json:"conversionAction,omitempty"`
	ConversionDateTime string `json:"conversionDateTime,omitempty"`
}

type rpcStatus struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details []statusDetail `json:"details,omitempty"`
}

type statusDetail struct {
	Type   string     `json:"@type"`
	Errors []adsError `json:"errors,omitempty"`
}

type adsError struct {
	// ErrorCode holds one entry such as {"conversionUploadError": "CONVERSION_PRECEDES_EVENT"}.
	ErrorCode map[string]string `json:"errorCode"`
	Message   string            `json:"message"`
	Location  *errorLocation    `json:"location,omitempty"`
}

type errorLocation struct {
	FieldPathElements []fieldPathElement `json:"fieldPathElements"`
}

type fieldPathElement struct {
	FieldName string `json:"fieldName"`
	Index     *int   `json:"index,omitempty"`
}

// errorEnvelope is the body of a non-2xx response.
type errorEnvelope struct {
	Error rpcStatus `json:"error"`
}
