package goBankID

// Method names one of the four relying-party endpoints. The value is the path
// relative to the configured base URL.
type Method string

const (
	// MethodAuth starts an authentication order.
	MethodAuth Method = "auth"
	// MethodSign starts a signing order.
	MethodSign Method = "sign"
	// MethodCollect reads the current state of an order.
	MethodCollect Method = "collect"
	// MethodCancel cancels an ongoing order.
	MethodCancel Method = "cancel"
)

// Status is the lifecycle state reported by collect. Once an order is
// StatusComplete or StatusFailed it never changes again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is complete or failed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// HintCode explains a pending or failed order.
type HintCode string

const (
	// Pending hint codes.
	HintOutstandingTransaction HintCode = "outstandingTransaction"
	HintNoClient               HintCode = "noClient"
	HintStarted                HintCode = "started"
	HintUserSign               HintCode = "userSign"

	// Failed hint codes.
	HintExpiredTransaction HintCode = "expiredTransaction"
	HintCertificateErr     HintCode = "certificateErr"
	HintUserCancel         HintCode = "userCancel"
	HintCancelled          HintCode = "cancelled"
	HintStartFailed        HintCode = "startFailed"
)

// ErrorCode is the errorCode field of a structured error response.
type ErrorCode string

const (
	ErrorAlreadyInProgress    ErrorCode = "alreadyInProgress"
	ErrorInvalidParameters    ErrorCode = "invalidParameters"
	ErrorUnauthorized         ErrorCode = "unauthorized"
	ErrorNotFound             ErrorCode = "notFound"
	ErrorMethodNotAllowed     ErrorCode = "methodNotAllowed"
	ErrorRequestTimeout       ErrorCode = "requestTimeout"
	ErrorUnsupportedMediaType ErrorCode = "unsupportedMediaType"
	ErrorInternalError        ErrorCode = "internalError"
	ErrorMaintenance          ErrorCode = "maintenance"
)

// Requirement narrows which users and devices may complete an order.
// Unset fields are omitted from the request.
type Requirement struct {
	CardReader             string   `json:"cardReader,omitempty"`
	CertificatePolicies    []string `json:"certificatePolicies,omitempty"`
	IssuerCN               []string `json:"issuerCn,omitempty"`
	AutoStartTokenRequired *bool    `json:"autoStartTokenRequired,omitempty"`
	AllowFingerprint       *bool    `json:"allowFingerprint,omitempty"`
}

// AuthRequest is the input of Client.Authenticate. EndUserIP is required.
type AuthRequest struct {
	EndUserIP      string       `json:"endUserIp"`
	PersonalNumber string       `json:"personalNumber,omitempty"`
	Requirement    *Requirement `json:"requirement,omitempty"`
}

// SignRequest is the input of Client.Sign. EndUserIP and UserVisibleData are
// required. The visible and non-visible data are plain text here; the client
// base64-encodes them on the wire.
type SignRequest struct {
	EndUserIP             string
	PersonalNumber        string
	Requirement           *Requirement
	UserVisibleData       string
	UserNonVisibleData    string
	UserVisibleDataFormat string
}

type signPayload struct {
	EndUserIP             string       `json:"endUserIp"`
	PersonalNumber        string       `json:"personalNumber,omitempty"`
	Requirement           *Requirement `json:"requirement,omitempty"`
	UserVisibleData       string       `json:"userVisibleData"`
	UserNonVisibleData    string       `json:"userNonVisibleData,omitempty"`
	UserVisibleDataFormat string       `json:"userVisibleDataFormat,omitempty"`
}

type orderRefPayload struct {
	OrderRef string `json:"orderRef"`
}

// OrderResponse is returned by auth and sign. All four fields are always set
// on a successful call.
type OrderResponse struct {
	OrderRef       string `json:"orderRef"`
	AutoStartToken string `json:"autoStartToken"`
	QRStartToken   string `json:"qrStartToken"`
	QRStartSecret  string `json:"qrStartSecret"`
}

func (r *OrderResponse) complete() bool {
	return r.OrderRef != "" && r.AutoStartToken != "" && r.QRStartToken != "" && r.QRStartSecret != ""
}

// CollectResponse is the state of an order as reported by collect.
// CompletionData is only set when Status is StatusComplete.
type CollectResponse struct {
	OrderRef       string          `json:"orderRef"`
	Status         Status          `json:"status"`
	HintCode       HintCode        `json:"hintCode,omitempty"`
	CompletionData *CompletionData `json:"completionData,omitempty"`
}

// CompletionData carries the identity and signature of a completed order.
type CompletionData struct {
	User struct {
		PersonalNumber string `json:"personalNumber"`
		Name           string `json:"name"`
		GivenName      string `json:"givenName"`
		Surname        string `json:"surname"`
	} `json:"user"`
	Device struct {
		IPAddress string `json:"ipAddress"`
	} `json:"device"`
	Cert struct {
		NotBefore string `json:"notBefore"`
		NotAfter  string `json:"notAfter"`
	} `json:"cert"`
	Signature    string `json:"signature"`
	OCSPResponse string `json:"ocspResponse"`
}

type errorResponse struct {
	ErrorCode ErrorCode `json:"errorCode"`
	Details   string    `json:"details"`
}
