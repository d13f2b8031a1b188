package fulfillment

import (
	"fmt"
	"strings"
)

// Code identifies a tool failure the model can react to.
type Code string

const (
	CodeProductNotFound    Code = "PRODUCT_NOT_FOUND"
	CodeMissingVariant     Code = "MISSING_VARIANT"
	CodeStockInsufficient  Code = "STOCK_INSUFFICIENT"
	CodeEmailRequired      Code = "EMAIL_REQUIRED"
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	CodePaymentGateway     Code = "PAYMENT_GATEWAY_ERROR"
	CodeNotAService        Code = "NOT_A_SERVICE"
	CodeOrderNotFound      Code = "ORDER_NOT_FOUND"
	CodeInvalidArguments   Code = "INVALID_ARGUMENTS"
	CodeImageNotFound      Code = "IMAGE_NOT_FOUND"
	CodeUnknownTool        Code = "UNKNOWN_TOOL"
)

// ToolError is a structured failure returned to the model as a tool result.
type ToolError struct {
	Code    Code
	Message string
	Hint    string
	Extra   map[string]any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ToolError) with(key string, value any) *ToolError {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

// Response renders the error in the tool-result shape.
func (e *ToolError) Response() map[string]any {
	out := map[string]any{
		"success": false,
		"code":    string(e.Code),
		"error":   e.Message,
	}
	if e.Hint != "" {
		out["hint"] = e.Hint
	}
	for k, v := range e.Extra {
		out[k] = v
	}
	return out
}

func toolErr(code Code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ImageAttachment asks the delivery layer to send a picture before the reply text.
type ImageAttachment struct {
	URL     string
	Caption string
}

// Outcome is the result of one dispatched tool call.
type Outcome struct {
	Response map[string]any
	Image    *ImageAttachment
	// Err is set when the call failed; Response then holds its rendering.
	Err *ToolError
}

func failed(err *ToolError) Outcome {
	return Outcome{Response: err.Response(), Err: err}
}

func succeeded(response map[string]any) Outcome {
	response["success"] = true
	return Outcome{Response: response}
}

// FormatAmount renders an integer currency amount with a space as the
// thousands separator, e.g. 15000 → "15 000".
func FormatAmount(amount int64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escalationLine(phone string) string {
	if phone == "" {
		return ""
	}
	return fmt.Sprintf("\n\n📞 En cas de besoin, contactez le service client au %s.", phone)
}
