package models

import "errors"

// Error taxonomy shared by the discovery engine and its callers. Package
// errors wrap these so callers can classify with errors.Is.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNoTargets     = errors.New("no IP addresses found to scan; provide a subnet or IP list")
	ErrProbeTimeout  = errors.New("probe timeout")
	ErrProbeProtocol = errors.New("probe protocol failure")
	ErrActionFailure = errors.New("device action failed")
	ErrPersistence   = errors.New("persistence failure")
	ErrNotFound      = errors.New("not found")
)
