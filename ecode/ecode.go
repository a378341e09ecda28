// Package ecode defines the business error codes carried in API responses.
//
// Codes follow a fixed numbering scheme:
//   - 0: success
//   - -100..-199: authentication / authorization
//   - -200..-299: request validation
//   - -300..-399: resource
//   - -500..: server
package ecode

import "fmt"

const (
	OK = 0

	NoLogin      = -101
	Unauthorized = -102
	AccessDenied = -103
	TokenExpired = -104

	RequestErr       = -200
	MethodNotAllowed = -201

	NothingFound = -300
	Conflict     = -301

	ServerErr = -500
)

var messages = map[int]string{
	OK:               "success",
	NoLogin:          "not logged in",
	Unauthorized:     "unauthorized",
	AccessDenied:     "access denied",
	TokenExpired:     "token expired",
	RequestErr:       "invalid request",
	MethodNotAllowed: "method not allowed",
	NothingFound:     "not found",
	Conflict:         "already exists",
	ServerErr:        "internal server error",
}

// Text returns the human-readable message for a code.
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[ServerErr]
}

const (
	requiredMsg = "required"
	invalidMsg  = "invalid"
	existMsg    = "already exists"
	notExistMsg = "does not exist"
	expiredMsg  = "expired"
)

// FieldIsRequired returns field required message
func FieldIsRequired(k ...string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], requiredMsg)
	}
	return requiredMsg
}

// FieldIsInvalid returns field invalid message
func FieldIsInvalid(k ...string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], invalidMsg)
	}
	return invalidMsg
}

// AlreadyExist returns already exist message
func AlreadyExist(k ...string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], existMsg)
	}
	return existMsg
}

// NotExist returns not exist message
func NotExist(k ...string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], notExistMsg)
	}
	return notExistMsg
}

// Expired returns expired message
func Expired(k ...string) string {
	if len(k) > 0 {
		return fmt.Sprintf("%s %s", k[0], expiredMsg)
	}
	return expiredMsg
}
