// Package apperr classifies errors into the closed kind set the scheduler,
// surfaces, and event log use to decide whether to retry, log, or exit.
package apperr

import (
	"errors"
	"strings"
)

// Kind is one of the closed set of error classifications.
type Kind string

const (
	KindConfigMissingEnv Kind = "config_missing_env"
	KindConfigMissingKey Kind = "config_missing_key"
	KindNetwork          Kind = "network"
	KindAuth             Kind = "auth"
	KindModelNotFound    Kind = "model_not_found"
	KindPolicy           Kind = "policy"
	KindBudget           Kind = "budget"
	KindUnknown          Kind = "unknown"
)

// Error wraps an underlying error with a classified Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify maps any error to its Kind. It first checks for an already
// classified *Error, then falls back to substring heuristics over the
// error text, so every component shares one classification policy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required") && strings.Contains(msg, "env"):
		return KindConfigMissingEnv
	case strings.Contains(msg, "api key") || strings.Contains(msg, "credentials"):
		return KindConfigMissingKey
	case strings.Contains(msg, "authentication") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return KindAuth
	case strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "404")):
		return KindModelNotFound
	case strings.Contains(msg, "policy") || strings.Contains(msg, "not allowed") || strings.Contains(msg, "denied by"):
		return KindPolicy
	case strings.Contains(msg, "budget") || strings.Contains(msg, "exhausted"):
		return KindBudget
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "reset by peer"):
		return KindNetwork
	default:
		return KindUnknown
	}
}
