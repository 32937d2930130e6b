package domain

import "errors"

var (
	ErrAuth            = errors.New("auth_refresh_failed")
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrUpstream        = errors.New("upstream_error")
)
