package visitorid

// Request headers carrying client signals, and response headers carrying the
// resolved identity. Shared by the service and the client library.
const (
	HeaderIfNoneMatch       = "If-None-Match"
	HeaderClientID          = "X-Qx7-Id"
	HeaderDataCleared       = "X-Data-Cleared"
	HeaderCognitoUserID     = "X-Cognito-User-Id"
	HeaderReturningFromAuth = "X-Returning-From-Auth"
	HeaderIncognito         = "X-Incognito-Mode"
	HeaderLimitedStorage    = "X-Limited-Storage"
	HeaderIntegrityScore    = "X-Sw-Integrity-Score"

	HeaderResolvedID        = "x-qx7-id"
	HeaderPersistenceMethod = "x-persistence-method"

	QueryRockmanID = "rockmanId"

	PathStep1 = "/onboarding-step1"
	PathStep2 = "/onboarding-step2"
)

// IdentityResponse is the JSON body of a successful step-1 resolution.
type IdentityResponse struct {
	Qx7ID             string `json:"qx7Id"`
	PersistenceMethod Method `json:"persistenceMethod"`
	IsReturning       bool   `json:"isReturning"`
}

// FallbackResponse is the JSON body of a failed step-1 resolution. It still
// carries a usable identifier.
type FallbackResponse struct {
	Error string `json:"error"`
	Qx7ID string `json:"qx7Id"`
}
