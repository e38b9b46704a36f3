package store

import (
	"context"
	"errors"
	"time"

	"github.com/facebookgo/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-payout-reconciler/internal/domain"
)

// SQL is a Store backed by the kv_entries table. It lets a fleet that
// already shares a relational database coordinate without extra
// infrastructure.
//
// SetIfAbsent is one INSERT ... ON CONFLICT statement that only overwrites a
// conflicting row when that row has expired, so acquisition is atomic in the
// database.
type SQL struct {
	db  *gorm.DB
	clk clock.Clock
}

// NewSQL wraps db. The kv_entries table must exist (see repo.AutoMigrate).
func NewSQL(db *gorm.DB, clk clock.Clock) *SQL {
	if clk == nil {
		clk = clock.New()
	}
	return &SQL{db: db, clk: clk}
}

func (s *SQL) now() time.Time { return s.clk.Now().UTC() }

// SetIfAbsent implements Store.
func (s *SQL) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	now := s.now()
	entry := domain.KVEntry{Key: key, Value: value, ExpiresAt: now.Add(ttl)}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lte{Column: clause.Column{Table: domain.KVEntry{}.TableName(), Name: "expires_at"}, Value: now},
		}},
	}).Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Get implements Store.
func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var entry domain.KVEntry
	err := s.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, s.now()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// Set implements Store.
func (s *SQL) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	entry := domain.KVEntry{Key: key, Value: value, ExpiresAt: s.now().Add(ttl)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
}

// Delete implements Store.
func (s *SQL) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&domain.KVEntry{}).Error
}

// CompareAndDelete implements Store.
func (s *SQL) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("key = ? AND value = ? AND expires_at > ?", key, value, s.now()).
		Delete(&domain.KVEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PurgeExpired deletes rows whose TTL has passed and returns how many.
func (s *SQL) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", s.now()).Delete(&domain.KVEntry{})
	return res.RowsAffected, res.Error
}

var _ Store = (*SQL)(nil)
