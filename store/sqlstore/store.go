// Package sqlstore persists splitters, payment records and usage events
// with GORM on Postgres or SQLite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/x402-foundation/splitpay"
)

// Store implements splitpay.ConfigStore, splitpay.RecordStore and
// splitpay.UsageStore on a GORM database.
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and migrates the schema. DSNs starting with
// "postgres://" or "postgresql://" use Postgres; anything else is treated
// as a SQLite file or URI.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Get implements splitpay.ConfigStore.
func (s *Store) Get(ctx context.Context, id string) (*splitpay.SplitterConfig, error) {
	var row Splitter
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, splitpay.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toConfig(), nil
}

// Put implements splitpay.ConfigStore as an upsert on the splitter ID.
func (s *Store) Put(ctx context.Context, cfg *splitpay.SplitterConfig) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(splitterFromConfig(cfg)).Error
}

// Exists implements splitpay.ConfigStore.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Splitter{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByAuthority implements splitpay.ConfigStore. Newest first.
func (s *Store) ListByAuthority(ctx context.Context, authority string) ([]*splitpay.SplitterConfig, error) {
	var rows []Splitter
	err := s.db.WithContext(ctx).Where("authority = ?", authority).Order("created_at desc, id").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toConfigs(rows), nil
}

// List implements splitpay.ConfigStore. Newest first.
func (s *Store) List(ctx context.Context) ([]*splitpay.SplitterConfig, error) {
	var rows []Splitter
	if err := s.db.WithContext(ctx).Order("created_at desc, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toConfigs(rows), nil
}

// GetByProof implements splitpay.RecordStore.
func (s *Store) GetByProof(ctx context.Context, proofID string) (*splitpay.PaymentRecord, error) {
	var row Payment
	err := s.db.WithContext(ctx).First(&row, "proof_id = ?", proofID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, splitpay.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// InsertIfAbsent implements splitpay.RecordStore using the unique index on
// proof_id: a conflicting insert affects no rows and the existing record is
// returned instead.
func (s *Store) InsertIfAbsent(ctx context.Context, rec *splitpay.PaymentRecord) (*splitpay.PaymentRecord, bool, error) {
	row := paymentFromRecord(rec)
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "proof_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return row.toRecord(), true, nil
	}

	existing, err := s.GetByProof(ctx, rec.ProofID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load conflicting record: %w", err)
	}
	return existing, false, nil
}

// ListBySplitter implements splitpay.RecordStore. Newest first.
func (s *Store) ListBySplitter(ctx context.Context, splitterID string) ([]*splitpay.PaymentRecord, error) {
	var rows []Payment
	err := s.db.WithContext(ctx).Where("splitter_id = ?", splitterID).Order("created_at desc").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*splitpay.PaymentRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// Stats implements splitpay.RecordStore.
func (s *Store) Stats(ctx context.Context) (splitpay.Stats, error) {
	var st splitpay.Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&Splitter{}).Count(&st.TotalSplitters).Error; err != nil {
		return st, err
	}
	if err := db.Model(&Payment{}).Count(&st.TotalPayments).Error; err != nil {
		return st, err
	}
	if err := db.Model(&Usage{}).Count(&st.TotalUsage).Error; err != nil {
		return st, err
	}
	var volume int64
	err := db.Model(&Payment{}).
		Select("COALESCE(SUM(total_amount), 0)").
		Where("status = ?", string(splitpay.StatusConfirmed)).
		Scan(&volume).Error
	if err != nil {
		return st, err
	}
	st.ConfirmedVolume = uint64(volume)
	return st, nil
}

// RecordUsage implements splitpay.UsageStore.
func (s *Store) RecordUsage(ctx context.Context, ev *splitpay.UsageEvent) error {
	return s.db.WithContext(ctx).Create(&Usage{
		ID:         ev.ID,
		SplitterID: ev.SplitterID,
		Resource:   ev.Resource,
		Payer:      ev.Payer,
		ProofID:    ev.ProofID,
		CreatedAt:  ev.CreatedAt,
	}).Error
}

func toConfigs(rows []Splitter) []*splitpay.SplitterConfig {
	out := make([]*splitpay.SplitterConfig, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toConfig())
	}
	return out
}
