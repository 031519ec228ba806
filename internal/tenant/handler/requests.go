package handler

import (
	"strings"

	dErrors "strata/pkg/domain-errors"
)

// CreateTenantRequest provisions a new tenant. ID is optional; when omitted a
// random one is assigned.
type CreateTenantRequest struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

func (r *CreateTenantRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.ID = strings.TrimSpace(r.ID)
}

func (r *CreateTenantRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	if len(r.Name) > 255 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 255 characters")
	}
	return nil
}

// RenameTenantRequest updates the tenant display name only.
type RenameTenantRequest struct {
	Name string `json:"name"`
}

func (r *RenameTenantRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *RenameTenantRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	if len(r.Name) > 255 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 255 characters")
	}
	return nil
}

// InsertDataRequest writes one key/value row into the tenant's database.
type InsertDataRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r *InsertDataRequest) Validate() error {
	if r.Key == "" {
		return dErrors.New(dErrors.CodeBadRequest, "key is required")
	}
	return nil
}
