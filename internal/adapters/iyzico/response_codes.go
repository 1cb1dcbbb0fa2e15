package iyzico

// Gateway response codes, as documented in the provider's integration guide.
// The adapter normalizes these into our error taxonomy; nothing outside this
// package ever matches on raw provider codes.
const (
	codeSuccess            = "0"
	codeInsufficientFunds  = "10051"
	codeDoNotHonor         = "10005"
	codeExpiredCard        = "10054"
	codeInvalidTransaction = "10057"
	codeLostCard           = "10041"
	codeStolenCard         = "10043"
	codeFraudSuspect       = "10204"
	codeSystemError        = "10226"
	codeThrottled          = "10227"
)

// responseMessages maps provider codes to operator-readable text.
var responseMessages = map[string]string{
	codeInsufficientFunds:  "insufficient funds",
	codeDoNotHonor:         "do not honor",
	codeExpiredCard:        "expired card",
	codeInvalidTransaction: "transaction not permitted to cardholder",
	codeLostCard:           "lost card",
	codeStolenCard:         "stolen card",
	codeFraudSuspect:       "suspected fraud",
	codeSystemError:        "provider system error",
	codeThrottled:          "provider throttled the request",
}

// MessageForCode returns the operator-readable text for a provider code.
func MessageForCode(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "unrecognized gateway response code " + code
}

// isRetryable reports whether a failed call with this code may be retried
// without risking a duplicate charge.
func isRetryable(code string) bool {
	switch code {
	case codeSystemError, codeThrottled:
		return true
	}
	return false
}
