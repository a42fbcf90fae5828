package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ProviderError is a non-2xx answer from an external provider.
type ProviderError struct {
	Provider string
	Status   int
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d (%s): %s", e.Provider, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Message)
}

// IsClientError reports whether the provider rejected the request itself.
func (e *ProviderError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// errorBody accepts both the {"error":{"code","message"}} envelope and a
// flat {"reason": "..."} body.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Reason string `json:"reason"`
}

// ParseResponseError reads and closes the body of a non-2xx response and
// returns it as a *ProviderError.
func ParseResponseError(resp *http.Response, provider string) error {
	defer func() { _ = resp.Body.Close() }()

	pe := &ProviderError{Provider: provider, Status: resp.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		pe.Message = fmt.Sprintf("failed to read body: %v", err)
		return pe
	}

	var body errorBody
	switch {
	case json.Unmarshal(raw, &body) != nil:
		pe.Message = strings.TrimSpace(string(raw))
	case body.Error != nil:
		pe.Code = body.Error.Code
		pe.Message = body.Error.Message
	case body.Reason != "":
		pe.Message = body.Reason
	default:
		pe.Message = strings.TrimSpace(string(raw))
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(resp.StatusCode)
	}
	return pe
}
