package service

import (
	"context"
	"fmt"
	"sync"

	"chrono-battle/models"

	"go.uber.org/zap"
)

// Catalog держит справочники навыков и предметов в памяти
type Catalog struct {
	mu     sync.RWMutex
	skills map[int]models.Skill
	items  map[int]models.Item

	store  CatalogStore
	logger *zap.Logger
}

// NewCatalog создает пустой справочник; данные загружает Refresh
func NewCatalog(store CatalogStore, logger *zap.Logger) *Catalog {
	return &Catalog{
		skills: make(map[int]models.Skill),
		items:  make(map[int]models.Item),
		store:  store,
		logger: logger,
	}
}

// Refresh перечитывает справочники из хранилища
func (c *Catalog) Refresh(ctx context.Context) error {
	skills, err := c.store.ListSkills(ctx)
	if err != nil {
		return fmt.Errorf("failed to load skills: %w", err)
	}
	items, err := c.store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}

	skillMap := make(map[int]models.Skill, len(skills))
	for _, s := range skills {
		skillMap[s.ID] = s
	}
	itemMap := make(map[int]models.Item, len(items))
	for _, it := range items {
		itemMap[it.ID] = it
	}

	c.mu.Lock()
	c.skills = skillMap
	c.items = itemMap
	c.mu.Unlock()

	c.logger.Info("Catalog refreshed",
		zap.Int("skills", len(skillMap)),
		zap.Int("items", len(itemMap)),
	)
	return nil
}

// Skill возвращает копию навыка
func (c *Catalog) Skill(id int) (*models.Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[id]
	if !ok {
		return nil, false
	}
	return &s, true
}

// Item возвращает копию предмета
func (c *Catalog) Item(id int) (*models.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return &it, true
}
