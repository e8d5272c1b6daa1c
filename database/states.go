package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	LastChainIndexState string = "last_chain_block"
)

var (
	StateNames = []string{
		LastChainIndexState,
	}
)

type State struct {
	BaseEntity
	Name    string `gorm:"type:varchar(50);uniqueIndex"`
	Index   uint64
	Updated time.Time
}

func (s *State) UpdateIndex(newIndex uint64) {
	s.Index = newIndex
	s.Updated = time.Now()
}

func FetchState(ctx context.Context, db *gorm.DB, name string) (*State, error) {
	var currentState State
	err := db.WithContext(ctx).Where(&State{Name: name}).First(&currentState).Error
	return &currentState, err
}

// initStates creates the missing state rows.
func initStates(ctx context.Context, db *gorm.DB) error {
	for _, name := range StateNames {
		s := &State{Name: name}
		s.UpdateIndex(0)
		err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s).Error
		if err != nil {
			return fmt.Errorf("initStates: %w", err)
		}
	}
	return nil
}

func (s *Store) UpdateState(ctx context.Context, name string, index uint64) error {
	state := &State{Name: name}
	state.UpdateIndex(index)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"index", "updated"}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("UpdateState: %w", err)
	}
	return nil
}
