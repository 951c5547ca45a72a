package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kasuganosora/eventvm/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists event definitions in the stored_events table.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Save validates ev and upserts its JSON form.
func (s *Store) Save(ctx context.Context, ev *GameEvent) error {
	if err := ValidateEvent(ev); err != nil {
		return err
	}
	data, err := json.Marshal(ev.ToMap())
	if err != nil {
		return fmt.Errorf("resource: encode event %d: %w", ev.ID, err)
	}
	row := &model.StoredEvent{EventID: ev.ID, Name: ev.Name, Data: datatypes.JSON(data)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "data", "updated_at"}),
	}).Create(row).Error
}

// Get loads one event by id.
func (s *Store) Get(ctx context.Context, id int) (*GameEvent, error) {
	var row model.StoredEvent
	err := s.db.WithContext(ctx).First(&row, "event_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return DecodeJSON(row.Data)
}

// Delete removes one event by id.
func (s *Store) Delete(ctx context.Context, id int) error {
	return s.db.WithContext(ctx).Delete(&model.StoredEvent{}, "event_id = ?", id).Error
}

// LoadInto decodes every stored event into set.
func (s *Store) LoadInto(ctx context.Context, set *EventSet) (int, error) {
	var rows []model.StoredEvent
	if err := s.db.WithContext(ctx).Order("event_id").Find(&rows).Error; err != nil {
		return 0, err
	}
	for _, row := range rows {
		ev, err := DecodeJSON(row.Data)
		if err != nil {
			return 0, fmt.Errorf("resource: stored event %d: %w", row.EventID, err)
		}
		if err := set.Put(ev); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}
