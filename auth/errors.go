package auth

import "errors"

var (
	// ErrInvalidCredentials is terminal for a login attempt: the email or
	// password was rejected at step 1.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrOtpRequired means no OTP code was supplied and no fetcher is
	// configured to retrieve one.
	ErrOtpRequired = errors.New("otp required but not provided")

	// ErrInvalidOtp is terminal for a login attempt: the caller must restart
	// from step 1 to obtain a fresh challenge.
	ErrInvalidOtp = errors.New("invalid otp code")

	// ErrTokenExpired means a refresh failed; the full login protocol must
	// be re-run since refresh tokens are not re-derivable.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenNotFound means the expected token was absent from storage or
	// from a server response.
	ErrTokenNotFound = errors.New("token not found")

	// ErrNotAuthenticated means no session or tokens exist at all.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrEmail covers mailbox failures: unreachable host, rejected login, or
	// no OTP arriving within the wait window. Distinct from ErrInvalidOtp,
	// which means a code was redeemed and rejected.
	ErrEmail = errors.New("otp mailbox error")
)
