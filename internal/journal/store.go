// Package journal persists confirmed trades and account transitions to a
// local sqlite file. It is an audit trail and a restart fallback, never the
// system of record; the ledger stays authoritative.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"propeval/internal/types"
)

type Store struct {
	db *gorm.DB
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeModel{}, &AccountEventModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTrade journals a confirmed trade. Conflicts on the trade id are
// ignored, so duplicate confirmations cannot double-write.
func (s *Store) SaveTrade(ctx context.Context, tr types.Trade, correlationID string, realizedPnL float64) error {
	rec := TradeModel{
		TradeID:       tr.ID,
		CorrelationID: correlationID,
		Symbol:        tr.Symbol,
		Side:          string(tr.Side),
		Quantity:      tr.Quantity,
		Price:         tr.Price,
		TimestampUnix: tr.Timestamp.UnixMilli(),
		RealizedPnL:   realizedPnL,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
}

// ReplaceTrades rewrites the journal from a fresh authoritative trade list,
// used after a full resync.
func (s *Store) ReplaceTrades(ctx context.Context, trades []types.Trade) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&TradeModel{}).Error; err != nil {
			return err
		}
		for _, tr := range trades {
			rec := TradeModel{
				TradeID:       tr.ID,
				Symbol:        tr.Symbol,
				Side:          string(tr.Side),
				Quantity:      tr.Quantity,
				Price:         tr.Price,
				TimestampUnix: tr.Timestamp.UnixMilli(),
				CreatedAtUnix: time.Now().Unix(),
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTrades returns the journaled trade log in ledger order.
func (s *Store) ListTrades(ctx context.Context) ([]types.Trade, error) {
	var recs []TradeModel
	if err := s.db.WithContext(ctx).Order("timestamp asc, trade_id asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	trades := make([]types.Trade, 0, len(recs))
	for _, rec := range recs {
		trades = append(trades, types.Trade{
			ID:        rec.TradeID,
			Symbol:    rec.Symbol,
			Side:      types.Side(rec.Side),
			Quantity:  rec.Quantity,
			Price:     rec.Price,
			Timestamp: time.UnixMilli(rec.TimestampUnix).UTC(),
		})
	}
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].Timestamp.Before(trades[j].Timestamp)
		}
		return trades[i].ID < trades[j].ID
	})
	return trades, nil
}

// SaveAccountEvent records a status transition or equity sync.
func (s *Store) SaveAccountEvent(ctx context.Context, challengeID string, from, to types.AccountStatus, equity float64, reason string) error {
	rec := AccountEventModel{
		ChallengeID:   challengeID,
		FromStatus:    string(from),
		ToStatus:      string(to),
		Equity:        equity,
		Reason:        reason,
		CreatedAtUnix: time.Now().Unix(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}
