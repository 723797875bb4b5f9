package errormapper

const (
	// Validation failures reported by the carrier
	ErrorCodeInvalidSenderID = "INVALID_SENDER"
	ErrorCodeInvalidMSISDN   = "INVALID_MSISDN"
	ErrorCodeInvalidLength   = "INVALID_LENGTH"
	ErrorCodeValidation      = "VALIDATION_FAIL"

	// Session failures
	ErrorCodeNotBound       = "NOT_BOUND"
	ErrorCodeBindFailed     = "BIND_FAIL"
	ErrorCodeMnoUnavailable = "MNO_UNAVAILABLE" // connection lost or no response

	// Carrier failures
	ErrorCodeThrottled     = "THROTTLED"
	ErrorCodeQueueFull     = "QUEUE_FULL"
	ErrorCodeMnoSubmitFail = "MNO_SUBMIT_FAIL" // generic rejection of a submit
	ErrorCodeMnoQueryFail  = "MNO_QUERY_FAIL"
	ErrorCodeSystemError   = "SYS_ERR"
	ErrorCodeUnknown       = "UNKNOWN"
)
