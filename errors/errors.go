package errors

import (
	"errors"
	"fmt"
)

// Code identifies one failure class of the federation flow. Every failure
// surfaced to a caller is reduced to one of these so a polling client can
// stop cleanly instead of retrying forever.
type Code string

const (
	CodeConfigMissing        Code = "config_missing"
	CodeTransportError       Code = "transport_error"
	CodeProviderError        Code = "provider_error"
	CodeStateMismatch        Code = "state_mismatch"
	CodeTokenRefreshFailed   Code = "token_refresh_failed"
	CodeProvisioningDisabled Code = "provisioning_disabled"
	CodeLoginFailed          Code = "login_failed"
)

// FederationError is the uniform error shape crossing component
// boundaries. Raw provider payloads never leak past the token exchange
// client; what escapes is a code plus a sanitized description.
type FederationError struct {
	Code        Code   `json:"error"`
	Description string `json:"error_description,omitempty"`
	// ProviderCode is the numeric error code from the provider payload,
	// when the failure originated there.
	ProviderCode int64 `json:"provider_code,omitempty"`
}

func (e *FederationError) Error() string {
	if e.ProviderCode != 0 {
		return fmt.Sprintf("%s [%d]: %s", e.Code, e.ProviderCode, e.Description)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is makes errors.Is match two FederationErrors on Code alone.
func (e *FederationError) Is(target error) bool {
	var fe *FederationError
	if errors.As(target, &fe) {
		return fe.Code == e.Code
	}
	return false
}

func NewConfigMissing(description string) *FederationError {
	return &FederationError{Code: CodeConfigMissing, Description: description}
}

func NewTransportError(description string) *FederationError {
	return &FederationError{Code: CodeTransportError, Description: description}
}

func NewProviderError(providerCode int64, description string) *FederationError {
	return &FederationError{Code: CodeProviderError, ProviderCode: providerCode, Description: description}
}

func NewStateMismatch(description string) *FederationError {
	return &FederationError{Code: CodeStateMismatch, Description: description}
}

func NewTokenRefreshFailed(description string) *FederationError {
	return &FederationError{Code: CodeTokenRefreshFailed, Description: description}
}

func NewProvisioningDisabled() *FederationError {
	return &FederationError{Code: CodeProvisioningDisabled, Description: "no matching account and auto-provisioning is disabled"}
}

func NewLoginFailed() *FederationError {
	return &FederationError{Code: CodeLoginFailed, Description: "login could not be completed"}
}

// Sentinels for store-level conditions. These are recoverable lookups, not
// taxonomy failures: callers translate them where user-facing.
var (
	ErrConfigMissing      = errors.New("no active provider configuration")
	ErrInvalidConfig      = errors.New("invalid provider configuration")
	ErrPairingNotFound    = errors.New("pairing session not found")
	ErrPairingConflict    = errors.New("pairing session not in a valid state for this transition")
	ErrAccountNotFound    = errors.New("account not found")
	ErrTokenNotFound      = errors.New("external identity token not found")
	ErrSessionMiss        = errors.New("session not found or outside validity window")
	ErrDuplicateLoginName = errors.New("login name already taken")
	ErrDuplicateIdentity  = errors.New("external identity already bound to an account")
)
