package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"strata/internal/sentinel"
	"strata/internal/tenant/models"
)

// MemoryStore is an in-memory registry for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.TenantRecord
}

// NewMemory constructs an empty in-memory registry store.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.TenantRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *models.TenantRecord) error {
	if rec == nil {
		return fmt.Errorf("tenant record is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("tenant %s: %w", rec.ID, sentinel.ErrAlreadyExists)
	}
	clone := *rec
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.records[rec.ID] = &clone
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, tenantID string) (*models.TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.TenantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*models.TenantRecord, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemoryStore) UpdateName(_ context.Context, tenantID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	rec.Name = name
	return nil
}

func (s *MemoryStore) UpdatePassword(_ context.Context, tenantID, encryptedPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	rec.EncryptedPassword = encryptedPassword
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[tenantID]; !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	delete(s.records, tenantID)
	return nil
}
