package memory_adapter

import (
	"context"
	"fmt"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SourceDefinitions хранит настройки источников; порядок добавления - порядок обхода при сборе
type SourceDefinitions struct {
	mu   sync.Mutex
	defs map[uuid.UUID][]domain.SourceDefinition
}

var _ port.SourceDefinitionRepositoryPort = (*SourceDefinitions)(nil)

func NewSourceDefinitions(defs ...domain.SourceDefinition) *SourceDefinitions {
	s := &SourceDefinitions{defs: make(map[uuid.UUID][]domain.SourceDefinition)}
	for _, d := range defs {
		s.Put(d)
	}
	return s
}

// Put добавляет или заменяет определение (office, source)
func (s *SourceDefinitions) Put(def domain.SourceDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.defs[def.OfficeID]
	for i := range list {
		if list[i].Source == def.Source {
			list[i] = def
			return
		}
	}
	s.defs[def.OfficeID] = append(list, def)
}

func (s *SourceDefinitions) ListEnabled(ctx context.Context, officeID uuid.UUID) ([]domain.SourceDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SourceDefinition
	for _, d := range s.defs[officeID] {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *SourceDefinitions) ListOfficesWithEnabledSources(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var offices []uuid.UUID
	for officeID, list := range s.defs {
		for _, d := range list {
			if d.Enabled {
				offices = append(offices, officeID)
				break
			}
		}
	}
	sort.Slice(offices, func(i, j int) bool { return offices[i].String() < offices[j].String() })
	return offices, nil
}

func (s *SourceDefinitions) MarkHarvested(ctx context.Context, officeID uuid.UUID, source domain.SourceKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.defs[officeID]
	for i := range list {
		if list[i].Source == source {
			t := at
			list[i].LastHarvestedAt = &t
			return nil
		}
	}
	return fmt.Errorf("source %s for office %s: %w", source, officeID, domain.ErrNotFound)
}
