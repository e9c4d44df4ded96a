package history

import (
	"context"
	"time"

	"chain-viewer/internal/model"
	"chain-viewer/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const leaderboardKey = "chain:leaderboard"

// Service stores results of finished sessions. Records live in sqlite; when
// a redis client is supplied, scores additionally land in a sorted set so
// the leaderboard survives db rotation. Nothing here is ever read back into
// the controller: finished results only.
type Service struct {
	db  *gorm.DB
	rdb *redis.Client
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{db: db, rdb: rdb}
}

// OpenDB opens the session store and migrates its schema.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.SessionRecord{}); err != nil {
		return nil, err
	}
	return db, nil
}

// NewRedis connects the optional leaderboard client. Returns nil when the
// address is empty or the server is unreachable; the leaderboard then falls
// back to sqlite.
func NewRedis(addr string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		logger.Log.Warn("redis unavailable, leaderboard falls back to sqlite",
			zap.String("addr", addr), zap.Error(err))
		return nil
	}
	return rdb
}

func (s *Service) RecordSession(ctx context.Context, sessionID string, final *model.GameState) error {
	if final == nil {
		return nil
	}

	record := model.SessionRecord{
		SessionID:      sessionID,
		Score:          final.Score,
		Turns:          final.Turn,
		FullChainCount: final.FullChainCount,
		Terminated:     final.Terminated,
		Truncated:      final.Truncated,
		EndedAt:        time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}

	if s.rdb != nil {
		if err := s.rdb.ZAdd(ctx, leaderboardKey, redis.Z{
			Score:  final.Score,
			Member: sessionID,
		}).Err(); err != nil {
			logger.Log.Warn("leaderboard update failed",
				zap.String("sessionID", sessionID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) RecentSessions(ctx context.Context, limit int) ([]model.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var records []model.SessionRecord
	err := s.db.WithContext(ctx).
		Order("ended_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

type LeaderboardEntry struct {
	SessionID string  `json:"sessionId"`
	Score     float64 `json:"score"`
}

// TopScores returns the best sessions, highest score first.
func (s *Service) TopScores(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}

	if s.rdb != nil {
		zs, err := s.rdb.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(n-1)).Result()
		if err != nil {
			return nil, err
		}
		entries := make([]LeaderboardEntry, 0, len(zs))
		for _, z := range zs {
			id, _ := z.Member.(string)
			entries = append(entries, LeaderboardEntry{SessionID: id, Score: z.Score})
		}
		return entries, nil
	}

	var records []model.SessionRecord
	if err := s.db.WithContext(ctx).
		Order("score DESC").
		Limit(n).
		Find(&records).Error; err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, LeaderboardEntry{SessionID: r.SessionID, Score: r.Score})
	}
	return entries, nil
}
