// internal/audit/service.go
package audit

import "context"

// Service defines the interface for the consistency auditor.
type Service interface {
	ValidateDatabase(ctx context.Context) (*Report, error)
}
