package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a failed call.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNetwork
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindValidation
	KindConflict
	KindServer
	// KindRejected is a 2xx response whose envelope carries ok:false.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindServer:
		return "server"
	case KindRejected:
		return "rejected"
	default:
		return "unexpected"
	}
}

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNetwork      = errors.New("network error")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrServer       = errors.New("server error")
	ErrRejected     = errors.New("request rejected")
	ErrUnexpected   = errors.New("unexpected response")
)

const (
	networkMessage = "Unable to reach the server. Check your connection and try again."
	serverMessage  = "Something went wrong on the server. Please try again later."
)

// Error is the normalized failure of a dispatched call.
type Error struct {
	Status  int
	Kind    Kind
	Message string
	Data    json.RawMessage
	// Code and Field come from a structured error body, when the backend sends one.
	Code   string
	Field  string
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindUnauthorized:
		return ErrUnauthorized
	case KindForbidden:
		return ErrForbidden
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindServer:
		return ErrServer
	case KindRejected:
		return ErrRejected
	default:
		return ErrUnexpected
	}
}

// KindForStatus maps an HTTP status onto the error taxonomy.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusConflict:
		return KindConflict
	case status >= 500:
		return KindServer
	case status >= 200 && status < 300:
		return KindRejected
	default:
		return KindUnexpected
	}
}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: networkMessage, Err: err}
}

type errorBody struct {
	Message string          `json:"message"`
	Code    json.RawMessage `json:"code"`
	Field   string          `json:"field"`
	Errors  json.RawMessage `json:"errors"`
}

func responseError(status int, payload json.RawMessage) *Error {
	e := &Error{
		Status:  status,
		Kind:    KindForStatus(status),
		Message: fmt.Sprintf("HTTP %d", status),
		Data:    payload,
	}
	if len(payload) == 0 || payload[0] != '{' {
		return e
	}
	var body errorBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return e
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		e.Message = msg
	}
	e.Code = rawString(body.Code)
	e.Field = strings.TrimSpace(body.Field)
	e.Fields = decodeFieldErrors(body.Errors)
	return e
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// decodeFieldErrors accepts {"field": "message"} or [{"field", "message"}].
func decodeFieldErrors(raw json.RawMessage) map[string]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string)
	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil
		}
		for k, v := range m {
			out[k] = firstMessage(v)
		}
	case '[':
		var list []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		for _, fe := range list {
			if fe.Field != "" {
				out[fe.Field] = fe.Message
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// firstMessage handles both "msg" and ["msg", ...] values.
func firstMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return string(raw)
}

// UserMessage returns the text to show for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	switch apiErr.Kind {
	case KindNetwork:
		return networkMessage
	case KindServer:
		return serverMessage
	default:
		return apiErr.Message
	}
}

// FieldErrors returns the per-field messages of a validation error.
func FieldErrors(err error) map[string]string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return nil
	}
	return apiErr.Fields
}

// ConflictField names the input a conflict belongs to. The structured field
// or code wins; message text is only consulted when neither is present.
func ConflictField(err error, candidates ...string) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindConflict {
		return ""
	}
	if apiErr.Field != "" {
		return apiErr.Field
	}
	if len(apiErr.Fields) > 0 {
		keys := make([]string, 0, len(apiErr.Fields))
		for k := range apiErr.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys[0]
	}
	if f := matchCandidate(apiErr.Code, candidates); f != "" {
		return f
	}
	if apiErr.Code != "" && !isNumeric(apiErr.Code) {
		// A symbolic code that names none of the candidates.
		return ""
	}
	return sniffConflictField(apiErr.Message, candidates)
}

func matchCandidate(code string, candidates []string) string {
	code = strings.ToLower(code)
	if code == "" {
		return ""
	}
	for _, c := range candidates {
		if strings.Contains(code, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// sniffConflictField is the message-text fallback for backends that send no
// structured conflict field.
func sniffConflictField(message string, candidates []string) string {
	msg := strings.ToLower(message)
	for _, c := range candidates {
		needle := strings.ToLower(strings.ReplaceAll(c, "_", " "))
		if strings.Contains(msg, needle) {
			return c
		}
	}
	return ""
}
