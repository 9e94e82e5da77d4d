package visitorid

// Method labels how an identifier was obtained for a response. It carries
// provenance and trust level for logs and metrics only.
type Method string

const (
	MethodNew                         Method = "new"
	MethodLocalStorage                Method = "localStorage"
	MethodLocalStorageVerified        Method = "localStorage-verified"
	MethodCognitoLocalStorageVerified Method = "cognito-localStorage-verified"
	MethodETag                        Method = "etag"
	MethodETagVerified                Method = "etag-verified"
	MethodIncognitoRandom             Method = "incognito-random"
	MethodLimitedStorageRandom        Method = "limited-storage-random"
	MethodCognitoPostAuthRecovery     Method = "cognito-post-auth-recovery"
	MethodErrorFallback               Method = "error-fallback"
)

// Methods lists every method in a stable order, for pre-registering metric labels.
var Methods = []Method{
	MethodNew,
	MethodLocalStorage,
	MethodLocalStorageVerified,
	MethodCognitoLocalStorageVerified,
	MethodETag,
	MethodETagVerified,
	MethodIncognitoRandom,
	MethodLimitedStorageRandom,
	MethodCognitoPostAuthRecovery,
	MethodErrorFallback,
}

func (m Method) String() string {
	return string(m)
}

// Returning reports whether the method reuses or recovers an earlier identifier.
func (m Method) Returning() bool {
	switch m {
	case MethodLocalStorage, MethodLocalStorageVerified, MethodCognitoLocalStorageVerified,
		MethodETag, MethodETagVerified, MethodCognitoPostAuthRecovery:
		return true
	default:
		return false
	}
}
