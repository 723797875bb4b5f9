// Package errormapper turns SMPP command_status values into the gateway's
// error codes and decides which failures are worth retrying.
package errormapper

import (
	"errors"
	"log/slog"

	"github.com/thrillee/smppengine/internal/pdu"
)

var statusToInternal = map[pdu.Status]string{
	pdu.StatusInvSrcAddr:     ErrorCodeInvalidSenderID,
	pdu.StatusInvDstAddr:     ErrorCodeInvalidMSISDN,
	pdu.StatusInvNumDests:    ErrorCodeInvalidMSISDN,
	pdu.StatusInvDLName:      ErrorCodeInvalidMSISDN,
	pdu.StatusInvMsgLen:      ErrorCodeInvalidLength,
	pdu.StatusInvCmdLen:      ErrorCodeInvalidLength,
	pdu.StatusInvCmdID:       ErrorCodeValidation,
	pdu.StatusInvDestFlag:    ErrorCodeValidation,
	pdu.StatusInvOptParStrm:  ErrorCodeValidation,
	pdu.StatusOptParNotAllwd: ErrorCodeValidation,
	pdu.StatusInvMsgID:       ErrorCodeValidation,
	pdu.StatusInvBndSts:      ErrorCodeNotBound,
	pdu.StatusBindFailed:     ErrorCodeBindFailed,
	pdu.StatusInvPasswd:      ErrorCodeBindFailed,
	pdu.StatusInvSysID:       ErrorCodeBindFailed,
	pdu.StatusAlyBnd:         ErrorCodeBindFailed,
	pdu.StatusThrottled:      ErrorCodeThrottled,
	pdu.StatusMsgQFul:        ErrorCodeQueueFull,
	pdu.StatusSubmitFail:     ErrorCodeMnoSubmitFail,
	pdu.StatusDeliveryFail:   ErrorCodeMnoSubmitFail,
	pdu.StatusQueryFail:      ErrorCodeMnoQueryFail,
	pdu.StatusSystemError:    ErrorCodeSystemError,
	pdu.StatusUnknownErr:     ErrorCodeUnknown,
}

// Temporary conditions on the carrier side; the same submit may succeed later.
var retryable = map[string]bool{
	ErrorCodeThrottled:      true,
	ErrorCodeQueueFull:      true,
	ErrorCodeSystemError:    true,
	ErrorCodeNotBound:       true,
	ErrorCodeMnoUnavailable: true,
}

// MapStatus translates a command_status into an internal error code. It
// returns "" for ESME_ROK.
func MapStatus(status pdu.Status) string {
	if status.OK() {
		return ""
	}
	if code, ok := statusToInternal[status]; ok {
		return code
	}
	slog.Debug("No specific mapping found for command status, returning default",
		slog.String("status", status.String()),
		slog.String("default_code", ErrorCodeMnoSubmitFail),
	)
	return ErrorCodeMnoSubmitFail
}

// MapError translates a transport or session error into an internal error
// code. Errors carrying a command_status are mapped through MapStatus.
func MapError(err error) string {
	if err == nil {
		return ""
	}
	var se interface{ CommandStatus() pdu.Status }
	if errors.As(err, &se) {
		return MapStatus(se.CommandStatus())
	}
	return ErrorCodeMnoUnavailable
}

// Retryable reports whether a failure with the given internal code may be
// submitted again.
func Retryable(code string) bool {
	return retryable[code]
}
