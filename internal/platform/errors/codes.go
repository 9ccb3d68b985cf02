// Package errors provides structured error handling for the bridge.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Transient network errors
	CodeEndpointUnreachable Code = "ENDPOINT_UNREACHABLE"
	CodeRequestTimeout      Code = "REQUEST_TIMEOUT"

	// Authentication and session errors
	CodeSessionMissing       Code = "SESSION_MISSING"
	CodeSessionExpired       Code = "SESSION_EXPIRED"
	CodeSessionRefreshFailed Code = "SESSION_REFRESH_FAILED"
	CodeRefreshInFlight      Code = "SESSION_REFRESH_IN_FLIGHT"
	CodeCircuitOpen          Code = "SESSION_CIRCUIT_OPEN"

	// Protocol errors
	CodeMalformedEnvelope    Code = "PROTOCOL_MALFORMED_ENVELOPE"
	CodeUnknownCorrelation   Code = "PROTOCOL_UNKNOWN_CORRELATION"
	CodeUnsupportedOperation Code = "PROTOCOL_UNSUPPORTED_OPERATION"

	// Domain validation errors
	CodeEntityNotFound       Code = "ENTITY_NOT_FOUND"
	CodeAttributePathInvalid Code = "ATTRIBUTE_PATH_INVALID"
	CodeEncounterInactive    Code = "ENCOUNTER_INACTIVE"

	// Critical lifecycle errors
	CodeSessionUnrecoverable Code = "SESSION_UNRECOVERABLE"

	// Discovery and channel errors
	CodeDiscoveryNoEndpoint Code = "DISCOVERY_NO_ENDPOINT"
	CodeIdentityMismatch    Code = "DISCOVERY_IDENTITY_MISMATCH"
	CodeChannelUnavailable  Code = "CHANNEL_UNAVAILABLE"
)

// Class groups codes by their recovery strategy.
type Class string

const (
	// ClassTransient errors are recovered by retry with backoff.
	ClassTransient Class = "TRANSIENT"
	// ClassAuth errors are recovered by a session refresh; the original call
	// is retried by its caller, never automatically.
	ClassAuth Class = "AUTH"
	// ClassProtocol errors are logged and discarded.
	ClassProtocol Class = "PROTOCOL"
	// ClassValidation errors are always answered to the remote caller.
	ClassValidation Class = "VALIDATION"
	// ClassCritical errors are surfaced to the operator and persist.
	ClassCritical Class = "CRITICAL"
)

// Class reports the recovery class for the code.
func (c Code) Class() Class {
	switch c {
	case CodeEndpointUnreachable, CodeRequestTimeout, CodeChannelUnavailable, CodeDiscoveryNoEndpoint:
		return ClassTransient
	case CodeSessionMissing, CodeSessionExpired, CodeSessionRefreshFailed, CodeRefreshInFlight, CodeCircuitOpen:
		return ClassAuth
	case CodeMalformedEnvelope, CodeUnknownCorrelation, CodeUnsupportedOperation, CodeIdentityMismatch:
		return ClassProtocol
	case CodeEntityNotFound, CodeAttributePathInvalid, CodeEncounterInactive:
		return ClassValidation
	case CodeSessionUnrecoverable:
		return ClassCritical
	default:
		return ClassProtocol
	}
}
