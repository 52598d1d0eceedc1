package nipc

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPMeta carries the transport metadata of a NIPC response.
type HTTPMeta struct {
	StatusCode    int               `json:"statusCode"`
	StatusMessage string            `json:"statusMessage"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Header returns the value of the named header, ignoring case.
func (m *HTTPMeta) Header(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for key, value := range m.Headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

// Response is the uniform result of every NIPC operation. Exactly one of
// Body and Error is meaningful; a successful call may also carry neither
// when the gateway returned no content.
type Response[T any] struct {
	HTTP  *HTTPMeta       `json:"http,omitempty"`
	Body  T               `json:"body,omitempty"`
	Error *ProblemDetails `json:"error,omitempty"`

	hasBody bool
}

// IsSuccess reports whether the call succeeded.
func (r Response[T]) IsSuccess() bool {
	return r.Error == nil && (r.HTTP == nil || r.HTTP.StatusCode < 400)
}

// IsError is the complement of IsSuccess.
func (r Response[T]) IsError() bool {
	return !r.IsSuccess()
}

// HasBody reports whether Body was populated from the response.
func (r Response[T]) HasBody() bool {
	return r.hasBody
}

func (r *Response[T]) setBody(body T) {
	r.Body = body
	r.hasBody = true
}

// NoContent is the body type of operations whose responses carry nothing.
type NoContent struct{}

// mapResponse converts an HTTP response into a Response. The body is read
// exactly once. decodeBody=false skips success-body parsing entirely.
// Every failure after the response headers arrived ends up in Response.Error.
func mapResponse[T any](resp *http.Response, decodeBody bool) Response[T] {
	var out Response[T]
	out.HTTP = &HTTPMeta{
		StatusCode:    resp.StatusCode,
		StatusMessage: statusMessage(resp),
		Headers:       flattenHeaders(resp.Header),
	}

	var raw []byte
	if resp.Body != nil {
		var err error
		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			out.Error = parsingProblem("Failed to read response body: " + err.Error())
			return out
		}
	}
	body := string(raw)

	if resp.StatusCode >= 400 {
		problem := DecodeProblem(resp.StatusCode, out.HTTP.StatusMessage, resp.Header.Get("Content-Type"), body)
		out.Error = &problem
		return out
	}

	if !decodeBody || body == "" {
		return out
	}

	var decoded T
	if err := json.Unmarshal(raw, &decoded); err != nil {
		out.Error = parsingProblem("Failed to parse success response: " + err.Error())
		return out
	}
	out.setBody(decoded)

	return out
}

// statusMessage returns the reason phrase of the response status line.
func statusMessage(resp *http.Response) string {
	msg := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}

// flattenHeaders joins multi-valued headers with commas.
func flattenHeaders(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for name, values := range h {
		headers[name] = strings.Join(values, ",")
	}
	return headers
}
