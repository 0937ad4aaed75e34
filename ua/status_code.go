package ua

import "fmt"

// StatusCode is the result of a service or transport operation.
type StatusCode uint32

// IsGood returns true if the StatusCode is good.
func (c StatusCode) IsGood() bool {
	return (uint32(c) & SeverityMask) == SeverityGood
}

// IsBad returns true if the StatusCode is bad.
func (c StatusCode) IsBad() bool {
	return (uint32(c) & SeverityMask) == SeverityBad
}

// IsUncertain returns true if the StatusCode is uncertain.
func (c StatusCode) IsUncertain() bool {
	return (uint32(c) & SeverityMask) == SeverityUncertain
}

// Error implements the error interface, so a bad StatusCode can travel up
// the call stack unchanged.
func (c StatusCode) Error() string {
	if name, ok := statusCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(c))
}

const (
	// Good - The operation completed successfully.
	Good StatusCode = 0x00000000
	// SeverityMask - .
	SeverityMask uint32 = 0xC0000000
	// SeverityGood - .
	SeverityGood uint32 = 0x00000000
	// SeverityUncertain - .
	SeverityUncertain uint32 = 0x40000000
	// SeverityBad - .
	SeverityBad uint32 = 0x80000000
)

// Codes returned by the transport and secure-channel layers.
const (
	// BadUnexpectedError - An unexpected error occurred.
	BadUnexpectedError StatusCode = 0x80010000
	// BadInternalError - An internal error occurred as a result of a programming or configuration error.
	BadInternalError StatusCode = 0x80020000
	// BadOutOfMemory - Not enough memory to complete the operation.
	BadOutOfMemory StatusCode = 0x80030000
	// BadResourceUnavailable - An operating system resource is not available.
	BadResourceUnavailable StatusCode = 0x80040000
	// BadCommunicationError - A low level communication error occurred.
	BadCommunicationError StatusCode = 0x80050000
	// BadEncodingError - Encoding halted because of invalid data in the objects being serialized.
	BadEncodingError StatusCode = 0x80060000
	// BadDecodingError - Decoding halted because of invalid data in the stream.
	BadDecodingError StatusCode = 0x80070000
	// BadEncodingLimitsExceeded - The message encoding/decoding limits imposed by the stack have been exceeded.
	BadEncodingLimitsExceeded StatusCode = 0x80080000
	// BadUnknownResponse - An unrecognized response was received from the server.
	BadUnknownResponse StatusCode = 0x80090000
	// BadTimeout - The operation timed out.
	BadTimeout StatusCode = 0x800A0000
	// BadServerHalted - The server has stopped and cannot process any requests.
	BadServerHalted StatusCode = 0x800E0000
	// BadSecurityChecksFailed - An error occurred verifying security.
	BadSecurityChecksFailed StatusCode = 0x80130000
	// BadCertificateInvalid - The certificate provided as a parameter is not valid.
	BadCertificateInvalid StatusCode = 0x80120000
	// BadSecureChannelIDInvalid - The specified secure channel is no longer valid.
	BadSecureChannelIDInvalid StatusCode = 0x80220000
	// BadNonceInvalid - The nonce does appear to be not a random value or it is not the correct length.
	BadNonceInvalid StatusCode = 0x80240000
	// BadSecurityModeRejected - The security mode does not meet the requirements set by the server.
	BadSecurityModeRejected StatusCode = 0x80540000
	// BadSecurityPolicyRejected - The security policy does not meet the requirements set by the server.
	BadSecurityPolicyRejected StatusCode = 0x80550000
	// BadTCPServerTooBusy - The server cannot process the request because it is too busy.
	BadTCPServerTooBusy StatusCode = 0x807D0000
	// BadTCPMessageTypeInvalid - The type of the message specified in the header invalid.
	BadTCPMessageTypeInvalid StatusCode = 0x807E0000
	// BadTCPSecureChannelUnknown - The secure channel id and/or token id are not currently in use.
	BadTCPSecureChannelUnknown StatusCode = 0x807F0000
	// BadTCPMessageTooLarge - The size of the message chunk specified in the header is too large.
	BadTCPMessageTooLarge StatusCode = 0x80800000
	// BadTCPNotEnoughResources - There are not enough resources to process the request.
	BadTCPNotEnoughResources StatusCode = 0x80810000
	// BadTCPInternalError - An internal error occurred.
	BadTCPInternalError StatusCode = 0x80820000
	// BadTCPEndpointURLInvalid - The server does not recognize the endpoint url specified.
	BadTCPEndpointURLInvalid StatusCode = 0x80830000
	// BadRequestInterrupted - The request could not be sent because of a network interruption.
	BadRequestInterrupted StatusCode = 0x80840000
	// BadConfigurationError - There is a problem with the configuration that affects the usefulness of the value.
	BadConfigurationError StatusCode = 0x80890000
	// BadRequestTooLarge - The request message size exceeds limits set by the server.
	BadRequestTooLarge StatusCode = 0x80B80000
	// BadResponseTooLarge - The response message size exceeds limits set by the client.
	BadResponseTooLarge StatusCode = 0x80B90000
	// BadProtocolVersionUnsupported - The applications do not have compatible protocol versions.
	BadProtocolVersionUnsupported StatusCode = 0x80BE0000
	// BadSequenceNumberInvalid - The sequence number is not valid.
	BadSequenceNumberInvalid StatusCode = 0x80880000
	// BadSecureChannelClosed - The secure channel has been closed.
	BadSecureChannelClosed StatusCode = 0x80860000
	// BadSecureChannelTokenUnknown - The token has expired or is not recognized.
	BadSecureChannelTokenUnknown StatusCode = 0x80870000
)

var statusCodeNames = map[StatusCode]string{
	Good:                          "Good",
	BadUnexpectedError:            "BadUnexpectedError",
	BadInternalError:              "BadInternalError",
	BadOutOfMemory:                "BadOutOfMemory",
	BadResourceUnavailable:        "BadResourceUnavailable",
	BadCommunicationError:         "BadCommunicationError",
	BadEncodingError:              "BadEncodingError",
	BadDecodingError:              "BadDecodingError",
	BadEncodingLimitsExceeded:     "BadEncodingLimitsExceeded",
	BadUnknownResponse:            "BadUnknownResponse",
	BadTimeout:                    "BadTimeout",
	BadServerHalted:               "BadServerHalted",
	BadSecurityChecksFailed:       "BadSecurityChecksFailed",
	BadCertificateInvalid:         "BadCertificateInvalid",
	BadSecureChannelIDInvalid:     "BadSecureChannelIDInvalid",
	BadNonceInvalid:               "BadNonceInvalid",
	BadSecurityModeRejected:       "BadSecurityModeRejected",
	BadSecurityPolicyRejected:     "BadSecurityPolicyRejected",
	BadTCPServerTooBusy:           "BadTCPServerTooBusy",
	BadTCPMessageTypeInvalid:      "BadTCPMessageTypeInvalid",
	BadTCPSecureChannelUnknown:    "BadTCPSecureChannelUnknown",
	BadTCPMessageTooLarge:         "BadTCPMessageTooLarge",
	BadTCPNotEnoughResources:      "BadTCPNotEnoughResources",
	BadTCPInternalError:           "BadTCPInternalError",
	BadTCPEndpointURLInvalid:      "BadTCPEndpointURLInvalid",
	BadRequestInterrupted:         "BadRequestInterrupted",
	BadConfigurationError:         "BadConfigurationError",
	BadRequestTooLarge:            "BadRequestTooLarge",
	BadResponseTooLarge:           "BadResponseTooLarge",
	BadProtocolVersionUnsupported: "BadProtocolVersionUnsupported",
	BadSequenceNumberInvalid:      "BadSequenceNumberInvalid",
	BadSecureChannelClosed:        "BadSecureChannelClosed",
	BadSecureChannelTokenUnknown:  "BadSecureChannelTokenUnknown",
}
