// Package gormstore persists per-(user,rule) position snapshots in SQLite.
// It is the durable owner of PositionState; the engine is the sole writer.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dipbot/internal/strategy"
	"dipbot/internal/types"
)

type positionStateModel struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    string         `gorm:"column:user_id;uniqueIndex:idx_user_rule;size:64"`
	RuleID    string         `gorm:"column:rule_id;uniqueIndex:idx_user_rule;size:64"`
	Symbol    string         `gorm:"column:symbol;index;size:32"`
	Active    bool           `gorm:"column:active;index"`
	Payload   datatypes.JSON `gorm:"column:payload"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (positionStateModel) TableName() string { return "position_states" }

// Store implements the engine's StateStore over GORM + SQLite.
type Store struct {
	db *gorm.DB
}

var _ strategy.StateStore = (*Store)(nil)

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gormstore: path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&positionStateModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep contention low while allowing concurrent HTTP reads.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Load returns (nil, nil) when no state exists for the pair.
func (s *Store) Load(ctx context.Context, userID, ruleID string) (*types.PositionState, error) {
	var row positionStateModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state types.PositionState
	if err := json.Unmarshal(row.Payload, &state); err != nil {
		return nil, fmt.Errorf("gormstore: decode state %s/%s: %w", userID, ruleID, err)
	}
	return &state, nil
}

// Save upserts the snapshot. A nil state clears the pair; a duplicate save
// with identical content is harmless (at-least-once semantics).
func (s *Store) Save(ctx context.Context, userID, ruleID string, state *types.PositionState) error {
	if state == nil {
		return s.Clear(ctx, userID, ruleID)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("gormstore: encode state %s/%s: %w", userID, ruleID, err)
	}
	row := positionStateModel{
		UserID:  userID,
		RuleID:  ruleID,
		Symbol:  state.Symbol,
		Active:  state.Active,
		Payload: payload,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "active", "payload", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) Clear(ctx context.Context, userID, ruleID string) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND rule_id = ?", userID, ruleID).
		Delete(&positionStateModel{}).Error
}

// StateRecord pairs a snapshot with its owner for read-only listings.
type StateRecord struct {
	UserID string               `json:"user_id"`
	RuleID string               `json:"rule_id"`
	State  *types.PositionState `json:"state"`
}

// List returns every stored snapshot, active ones first, for observability
// endpoints.
func (s *Store) List(ctx context.Context) ([]StateRecord, error) {
	var rows []positionStateModel
	if err := s.db.WithContext(ctx).Order("active DESC, updated_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]StateRecord, 0, len(rows))
	for _, row := range rows {
		var state types.PositionState
		if err := json.Unmarshal(row.Payload, &state); err != nil {
			continue
		}
		out = append(out, StateRecord{UserID: row.UserID, RuleID: row.RuleID, State: &state})
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
