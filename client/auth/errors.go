package auth

import "fmt"

// OAuthError is returned when an external sign-in did not produce a session.
type OAuthError struct {
	Err error
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("oauth sign-in failed: %v", e.Err)
}

func (e *OAuthError) Unwrap() error { return e.Err }

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}
