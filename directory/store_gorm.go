package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/rajashekarcs2023/weather-marketplace/internal/database"
)

// agentModel is the SQL row of one record. The capability is kept as JSON.
type agentModel struct {
	Address      string    `gorm:"primaryKey;size:128"`
	Name         string    `gorm:"size:256;index"`
	URL          string    `gorm:"size:512;uniqueIndex"`
	Readme       string    `gorm:"type:text"`
	Capability   string    `gorm:"type:text"`
	RegisteredAt time.Time `gorm:"index"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (agentModel) TableName() string { return "directory_agents" }

// GormStore is a Store on any gorm dialect (sqlite, postgres, mysql).
type GormStore struct {
	pool *database.PoolManager
}

// NewGormStore migrates the schema and returns the store.
func NewGormStore(ctx context.Context, pool *database.PoolManager) (*GormStore, error) {
	if err := pool.DB().WithContext(ctx).AutoMigrate(&agentModel{}); err != nil {
		return nil, fmt.Errorf("migrate directory schema: %w", err)
	}
	return &GormStore{pool: pool}, nil
}

func (s *GormStore) Save(ctx context.Context, rec *AgentRecord) error {
	if rec == nil || rec.Address == "" {
		return fmt.Errorf("invalid agent record")
	}
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var taken int64
		err := tx.Model(&agentModel{}).
			Where("url = ? AND address <> ?", m.URL, m.Address).
			Count(&taken).Error
		if err != nil {
			return err
		}
		if taken > 0 {
			return ErrEndpointTaken
		}
		// the unique index catches a replica that saved the URL concurrently
		if err := tx.Save(m).Error; errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEndpointTaken
		} else if err != nil {
			return err
		}
		return nil
	})
}

func (s *GormStore) Load(ctx context.Context, address string) (*AgentRecord, error) {
	var m agentModel
	err := s.pool.DB().WithContext(ctx).First(&m, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return fromModel(&m)
}

func (s *GormStore) LoadAll(ctx context.Context) ([]*AgentRecord, error) {
	var rows []agentModel
	if err := s.pool.DB().WithContext(ctx).Order("registered_at asc, address asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	result := make([]*AgentRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromModel(&rows[i])
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

func (s *GormStore) Delete(ctx context.Context, address string) error {
	res := s.pool.DB().WithContext(ctx).Delete(&agentModel{}, "address = ?", address)
	if res.Error != nil {
		return fmt.Errorf("delete agent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, address)
	}
	return nil
}

func toModel(rec *AgentRecord) (*agentModel, error) {
	m := &agentModel{
		Address:      rec.Address,
		Name:         rec.Name,
		URL:          rec.URL,
		Readme:       rec.Readme,
		RegisteredAt: rec.RegisteredAt.UTC(),
		UpdatedAt:    rec.UpdatedAt.UTC(),
	}
	if rec.Capability != nil {
		raw, err := json.Marshal(rec.Capability)
		if err != nil {
			return nil, fmt.Errorf("encode capability: %w", err)
		}
		m.Capability = string(raw)
	}
	return m, nil
}

func fromModel(m *agentModel) (*AgentRecord, error) {
	rec := &AgentRecord{
		Address:      m.Address,
		Name:         m.Name,
		URL:          m.URL,
		Readme:       m.Readme,
		RegisteredAt: m.RegisteredAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Capability != "" {
		var c Capability
		if err := json.Unmarshal([]byte(m.Capability), &c); err != nil {
			return nil, fmt.Errorf("decode capability of %s: %w", m.Address, err)
		}
		rec.Capability = &c
	}
	return rec, nil
}

var _ Store = (*GormStore)(nil)
