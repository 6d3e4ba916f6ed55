package store

import "errors"

var (
	ErrClinicNotFound     = errors.New("clinic not found")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrTurnNotFound       = errors.New("turn not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrScopeMismatch      = errors.New("turn outside clinic-day scope")
	ErrReorderSetMismatch = errors.New("reorder ids do not match open turns")
	ErrConflict           = errors.New("concurrent update conflict")
)
