package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	appcache "nof0-api/internal/cache"
	"nof0-api/internal/repo"
	executorpkg "nof0-api/pkg/executor"
	"nof0-api/pkg/portfolio"
)

var (
	_ portfolio.HistorySource          = (*Service)(nil)
	_ executorpkg.ConversationRecorder = (*Service)(nil)
)

// Service wires Postgres + Redis collaborators backing the Portfolio
// View's history source (C4) and the Analyst Panel's conversation log
// (C6): one Engine, one set of time series, no per-trader keying.
type Service struct {
	sqlConn sqlx.SqlConn
	repos   *repo.Set
	cache   gocache.Cache
	ttl     appcache.TTLSet
}

// Config enumerates dependencies needed to persist engine-cycle events.
type Config struct {
	SQLConn sqlx.SqlConn
	Repos   *repo.Set
	Cache   gocache.Cache
	TTL     appcache.TTLSet
}

// NewService wires a persistence service. Returns nil when mandatory
// dependencies are missing, mirroring the teacher's conditional-persistence
// idiom (run without Postgres in dry-run/test).
func NewService(cfg Config) *Service {
	if cfg.SQLConn == nil || cfg.Repos == nil {
		return nil
	}
	return &Service{
		sqlConn: cfg.SQLConn,
		repos:   cfg.Repos,
		cache:   cfg.Cache,
		ttl:     cfg.TTL,
	}
}

// RecordEquity implements the Engine's EquitySink hook: one row per cycle,
// keyed by timestamp since there is exactly one portfolio view.
func (s *Service) RecordEquity(ctx context.Context, equity float64, at time.Time) error {
	if s == nil {
		return nil
	}
	return s.repos.Equity.RecordSnapshot(ctx, repo.EquitySnapshot{
		TimestampMs: at.UTC().UnixMilli(),
		Equity:      equity,
	})
}

// RecentPnLWindows implements portfolio.HistorySource.
func (s *Service) RecentPnLWindows(ctx context.Context, id portfolio.ViewID, now time.Time) (portfolio.PnLWindow, error) {
	if s == nil {
		return portfolio.PnLWindow{}, nil
	}
	equity, ok, err := s.repos.Equity.EquityAt(ctx, now.UTC().UnixMilli())
	if err != nil {
		return portfolio.PnLWindow{}, err
	}
	if !ok || equity == 0 {
		return portfolio.PnLWindow{}, nil
	}
	dayPnL, err := s.repos.Trades.RecentRealizedPnL(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return portfolio.PnLWindow{}, err
	}
	weekPnL, err := s.repos.Trades.RecentRealizedPnL(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return portfolio.PnLWindow{}, err
	}
	return portfolio.PnLWindow{
		DayPct:  dayPnL / equity * 100,
		WeekPct: weekPnL / equity * 100,
	}, nil
}

// DailyTradeCount implements portfolio.HistorySource.
func (s *Service) DailyTradeCount(ctx context.Context, id portfolio.ViewID, now time.Time) (int, error) {
	if s == nil {
		return 0, nil
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.UTC().Location())
	return s.repos.Trades.DailyTradeCount(ctx, midnight)
}

// LastEntryTimestamp implements portfolio.HistorySource.
func (s *Service) LastEntryTimestamp(ctx context.Context, id portfolio.ViewID, symbol string, side portfolio.Side) (time.Time, bool, error) {
	if s == nil {
		return time.Time{}, false, nil
	}
	return s.repos.Trades.LastEntryTimestamp(ctx, symbol, side)
}

// RecordConversation persists one analyst's raw prompt/response pair for
// debugging and cost tracking.
func (s *Service) RecordConversation(ctx context.Context, rec executorpkg.ConversationRecord) error {
	if s == nil || s.sqlConn == nil {
		return nil
	}
	analystID := strings.TrimSpace(rec.AnalystID)
	if analystID == "" || strings.TrimSpace(rec.Prompt) == "" || strings.TrimSpace(rec.Response) == "" {
		return nil
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	topic := sql.NullString{}
	if trimmed := strings.TrimSpace(rec.Topic); trimmed != "" {
		topic = sql.NullString{String: trimmed, Valid: true}
	}
	var conversationID int64
	err := s.sqlConn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		const insertConv = `
INSERT INTO public.conversations (analyst_id, topic, created_at)
VALUES ($1, $2, NOW())
RETURNING id`
		if err := session.QueryRowCtx(ctx, &conversationID, insertConv, analystID, topic); err != nil {
			return err
		}
		if err := insertMessage(ctx, session, conversationID, "system", rec.Prompt, rec.PromptTokens, ts); err != nil {
			return err
		}
		return insertMessage(ctx, session, conversationID, "assistant", rec.Response, rec.CompletionTokens, ts)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	s.cacheConversationID(ctx, analystID, conversationID)
	return nil
}

func insertMessage(ctx context.Context, session sqlx.Session, conversationID int64, role, content string, tokens int, ts time.Time) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	const stmt = `
INSERT INTO public.conversation_messages (conversation_id, role, content, tokens, ts_ms, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())`
	_, err := session.ExecCtx(ctx, stmt, conversationID, role, content, tokens, ts.UTC().UnixMilli())
	return err
}

func (s *Service) cacheConversationID(ctx context.Context, analystID string, conversationID int64) {
	if s == nil || s.cache == nil || conversationID <= 0 {
		return
	}
	key := appcache.ConversationsKey(analystID)
	var ids []int64
	if err := s.cache.GetCtx(ctx, key, &ids); err != nil && !s.cache.IsNotFound(err) {
		logx.WithContext(ctx).Errorf("enginepersist: load conversations cache key=%s err=%v", key, err)
		return
	}
	ids = append([]int64{conversationID}, ids...)
	const conversationsCacheLimit = 20
	if len(ids) > conversationsCacheLimit {
		ids = ids[:conversationsCacheLimit]
	}
	ttl := s.ttl.Duration(appcache.TTLLong)
	if ttl <= 0 {
		return
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, ids, ttl); err != nil {
		logx.WithContext(ctx).Errorf("enginepersist: set conversations cache key=%s err=%v", key, err)
	}
}

func isUniqueViolation(err error) bool {
	pgErr, ok := err.(*pq.Error)
	return ok && pgErr.Code == "23505"
}
