// Package server provides the session, validation and WebSocket building
// blocks of the rdio-vox web interface.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/rdio-vox/internal/types"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// validate is the shared validator instance for request validation.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages instead of struct field names
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
}

// DecodeRequest reads a JSON body into a T and validates it. Decoding
// failures and validation failures are both returned as *types.ValidationError.
func DecodeRequest[T any](r *http.Request) (T, error) {
	var data T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&data); err != nil && !errors.Is(err, io.EOF) {
		verr := types.NewValidationError()
		verr.Add("", "invalid JSON: "+err.Error(), nil)
		return data, verr
	}
	if err := Validate(&data); err != nil {
		return data, err
	}
	return data, nil
}

// Validate checks a request struct against its validation tags.
func Validate(data any) error {
	if err := validate.Struct(data); err != nil {
		return ToValidationError(err)
	}
	return nil
}

// ToValidationError converts validator errors to the API error format.
func ToValidationError(err error) *types.ValidationError {
	verr := types.NewValidationError()

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			verr.Add(e.Field(), formatValidationMessage(e), e.Value())
		}
	} else {
		verr.Add("", err.Error(), nil)
	}
	return verr
}

// decodeCommand decodes and validates WebSocket command data.
// Returns true if successful, false if an error response was already sent.
func decodeCommand[T any](cmd WSCommand, send chan<- any, data *T) bool {
	if len(cmd.Data) > 0 {
		if err := json.Unmarshal(cmd.Data, data); err != nil {
			SendError(send, cmd, fmt.Errorf("invalid JSON: %w", err))
			return false
		}
	}
	if err := validate.Struct(data); err != nil {
		SendValidationErrors(send, cmd, err)
		return false
	}
	return true
}

// --- Response helpers ---

// CommandResult is the reply to a WebSocket command.
type CommandResult struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// SendSuccess sends a success response for a command.
func SendSuccess(send chan<- any, cmd WSCommand, data any) {
	trySend(send, cmd.Type, CommandResult{Type: cmd.Type + "_result", ID: cmd.ID, Success: true, Data: data})
}

// SendError sends an error response for a command.
func SendError(send chan<- any, cmd WSCommand, err error) {
	trySend(send, cmd.Type, CommandResult{Type: cmd.Type + "_result", ID: cmd.ID, Error: err.Error()})
}

// SendValidationErrors converts validator errors to our format and sends them.
func SendValidationErrors(send chan<- any, cmd WSCommand, err error) {
	trySend(send, cmd.Type, CommandResult{Type: cmd.Type + "_result", ID: cmd.ID, Error: ToValidationError(err)})
}

// trySend attempts to send a message, logging a warning if the channel is full.
func trySend(send chan<- any, cmdType string, msg any) {
	select {
	case send <- msg:
	default:
		slog.Warn("failed to send response: channel full or closed", "type", cmdType)
	}
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url", "http_url":
		return "must be a valid URL"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "eqfield":
		return "does not match"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
