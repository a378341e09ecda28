package structs

// Error is a domain error constant.
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	// ErrInvalidCredentials is returned for any login failure, regardless of
	// whether the email is known, so the response does not leak which.
	ErrInvalidCredentials = Error("invalid credentials")

	// ErrInvalidToken covers any token that fails decoding, signature or
	// expiry checks.
	ErrInvalidToken = Error("invalid token")

	// ErrAlreadyRegistered is returned when a signup email is already held as
	// a pending registration.
	ErrAlreadyRegistered = Error("user already signed up, please log in")

	// ErrSubjectNotFound is returned when a token verifies but its subject no
	// longer exists.
	ErrSubjectNotFound = Error("user not found")
)
