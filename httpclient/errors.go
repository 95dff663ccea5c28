package httpclient

import (
	"errors"
	"fmt"
	"regexp"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes of the structured errors returned for failures that are not HTTP responses.
const (
	TextCodeTransportFailed  = "TRANSPORT_FAILED"
	TextCodeInvalidRequest   = "INVALID_REQUEST"
	TextCodeResponseTooLarge = "RESPONSE_TOO_LARGE"
)

// StatusVariant identifies one mapped HTTP error status. The package-level Err* values are the
// only instances, so a ResponseError can be matched with errors.Is(err, httpclient.ErrNotFound).
type StatusVariant struct {
	Code int
	Text string
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Name returns the status text without spaces or punctuation, e.g. "ServiceUnavailable".
func (v *StatusVariant) Name() string {
	return nonAlphanumeric.ReplaceAllString(v.Text, "")
}

func (v *StatusVariant) Error() string {
	return fmt.Sprintf("%d %s", v.Code, v.Text)
}

// Status variants for every mapped HTTP error status.
var (
	ErrBadRequest                    = &StatusVariant{400, "Bad Request"}
	ErrUnauthorized                  = &StatusVariant{401, "Unauthorized"}
	ErrPaymentRequired               = &StatusVariant{402, "Payment Required"}
	ErrForbidden                     = &StatusVariant{403, "Forbidden"}
	ErrNotFound                      = &StatusVariant{404, "Not Found"}
	ErrMethodNotAllowed              = &StatusVariant{405, "Method Not Allowed"}
	ErrNotAcceptable                 = &StatusVariant{406, "Not Acceptable"}
	ErrProxyAuthenticationRequired   = &StatusVariant{407, "Proxy Authentication Required"}
	ErrRequestTimeout                = &StatusVariant{408, "Request Timeout"}
	ErrConflict                      = &StatusVariant{409, "Conflict"}
	ErrGone                          = &StatusVariant{410, "Gone"}
	ErrLengthRequired                = &StatusVariant{411, "Length Required"}
	ErrPreconditionFailed            = &StatusVariant{412, "Precondition Failed"}
	ErrPayloadTooLarge               = &StatusVariant{413, "Payload Too Large"}
	ErrURITooLong                    = &StatusVariant{414, "URI Too Long"}
	ErrUnsupportedMediaType          = &StatusVariant{415, "Unsupported Media Type"}
	ErrRangeNotSatisfiable           = &StatusVariant{416, "Range Not Satisfiable"}
	ErrExpectationFailed             = &StatusVariant{417, "Expectation Failed"}
	ErrImATeapot                     = &StatusVariant{418, "I'm A Teapot"}
	ErrTooManyConnectionsFromThisIP  = &StatusVariant{421, "Too Many Connections From This IP"}
	ErrUnprocessableEntity           = &StatusVariant{422, "Unprocessable Entity"}
	ErrLocked                        = &StatusVariant{423, "Locked"}
	ErrFailedDependency              = &StatusVariant{424, "Failed Dependency"}
	ErrUnorderedCollection           = &StatusVariant{425, "Unordered Collection"}
	ErrUpgradeRequired               = &StatusVariant{426, "Upgrade Required"}
	ErrPreconditionRequired          = &StatusVariant{428, "Precondition Required"}
	ErrTooManyRequests               = &StatusVariant{429, "Too Many Requests"}
	ErrRequestHeaderFieldsTooLarge   = &StatusVariant{431, "Request Header Fields Too Large"}
	ErrRetryWith                     = &StatusVariant{449, "Retry With"}
	ErrBlockedByWindowsParental      = &StatusVariant{450, "Blocked By Windows Parental Controls"}
	ErrUnavailableForLegalReasons    = &StatusVariant{451, "Unavailable For Legal Reasons"}
	ErrInternalServerError           = &StatusVariant{500, "Internal Server Error"}
	ErrNotImplemented                = &StatusVariant{501, "Not Implemented"}
	ErrBadGateway                    = &StatusVariant{502, "Bad Gateway"}
	ErrServiceUnavailable            = &StatusVariant{503, "Service Unavailable"}
	ErrGatewayTimeout                = &StatusVariant{504, "Gateway Timeout"}
	ErrHTTPVersionNotSupported       = &StatusVariant{505, "HTTP Version Not Supported"}
	ErrVariantAlsoNegotiates         = &StatusVariant{506, "Variant Also Negotiates"}
	ErrInsufficientStorage           = &StatusVariant{507, "Insufficient Storage"}
	ErrLoopDetected                  = &StatusVariant{508, "Loop Detected"}
	ErrBandwidthLimitExceeded        = &StatusVariant{509, "Bandwidth Limit Exceeded"}
	ErrNotExtended                   = &StatusVariant{510, "Not Extended"}
	ErrNetworkAuthenticationRequired = &StatusVariant{511, "Network Authentication Required"}
)

var statusVariants = indexVariants(
	ErrBadRequest, ErrUnauthorized, ErrPaymentRequired, ErrForbidden, ErrNotFound,
	ErrMethodNotAllowed, ErrNotAcceptable, ErrProxyAuthenticationRequired, ErrRequestTimeout,
	ErrConflict, ErrGone, ErrLengthRequired, ErrPreconditionFailed, ErrPayloadTooLarge,
	ErrURITooLong, ErrUnsupportedMediaType, ErrRangeNotSatisfiable, ErrExpectationFailed,
	ErrImATeapot, ErrTooManyConnectionsFromThisIP, ErrUnprocessableEntity, ErrLocked,
	ErrFailedDependency, ErrUnorderedCollection, ErrUpgradeRequired, ErrPreconditionRequired,
	ErrTooManyRequests, ErrRequestHeaderFieldsTooLarge, ErrRetryWith, ErrBlockedByWindowsParental,
	ErrUnavailableForLegalReasons,
	ErrInternalServerError, ErrNotImplemented, ErrBadGateway, ErrServiceUnavailable,
	ErrGatewayTimeout, ErrHTTPVersionNotSupported, ErrVariantAlsoNegotiates,
	ErrInsufficientStorage, ErrLoopDetected, ErrBandwidthLimitExceeded, ErrNotExtended,
	ErrNetworkAuthenticationRequired,
)

func indexVariants(variants ...*StatusVariant) map[int]*StatusVariant {
	m := make(map[int]*StatusVariant, len(variants))
	for _, v := range variants {
		m[v.Code] = v
	}
	return m
}

// VariantFor returns the variant mapped to code, or nil if code is not in the table.
func VariantFor(code int) *StatusVariant {
	return statusVariants[code]
}

// ResponseError is returned for every non-2xx response. It carries the full response.
//
//	resp, err := client.Post(ctx, "/orders", httpclient.WithJSON(order))
//	switch {
//	case errors.Is(err, httpclient.ErrNotFound):
//	    // ...
//	case errors.As(err, &respErr):
//	    log.Println(respErr.Response.StatusCode)
//	}
type ResponseError struct {
	Response *Response
	variant  *StatusVariant
}

// NewResponseError classifies resp by its status code.
func NewResponseError(resp *Response) *ResponseError {
	return &ResponseError{Response: resp, variant: VariantFor(resp.StatusCode)}
}

// Variant returns the mapped status variant, or nil for unmapped status codes.
func (e *ResponseError) Variant() *StatusVariant {
	return e.variant
}

// StatusCode returns the response status code.
func (e *ResponseError) StatusCode() int {
	return e.Response.StatusCode
}

// Name returns the variant name, or "ResponseError" for unmapped status codes.
func (e *ResponseError) Name() string {
	if e.variant == nil {
		return "ResponseError"
	}
	return e.variant.Name()
}

// Error renders "<Name> (<code>, <uri>): <body>". The URI part is left out when the
// response has none.
func (e *ResponseError) Error() string {
	if e.Response.URI == "" {
		return fmt.Sprintf("%s (%d): %s", e.Name(), e.Response.StatusCode, e.Response.Body)
	}
	return fmt.Sprintf("%s (%d, %s): %s", e.Name(), e.Response.StatusCode, e.Response.URI, e.Response.Body)
}

// Unwrap exposes the status variant to errors.Is.
func (e *ResponseError) Unwrap() error {
	if e.variant == nil {
		return nil
	}
	return e.variant
}

// AsResponseError reports whether err is or wraps a *ResponseError and returns it.
func AsResponseError(err error) (*ResponseError, bool) {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr, true
	}
	return nil, false
}

func requestError(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func requestWrapError(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) error {
	if source == nil {
		return requestError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
