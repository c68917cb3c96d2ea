package db

import "context"

// Store bundles the durable collaborators (Postgres + Redis lobby cache)
// behind one value so room code can take it as an interface and tests can
// stub it out. A missing backend degrades to a no-op: rooms stay fully
// playable in memory when Postgres or Redis is down.
type Store struct{}

func NewStore() *Store { return &Store{} }

func (s *Store) EnsureParticipant(ctx context.Context, gameID, playerID, displayName string, startingBalance float64) (int64, error) {
	if PostgresPool == nil {
		return 0, nil
	}
	return EnsureParticipant(ctx, gameID, playerID, displayName, startingBalance)
}

func (s *Store) RecordTransaction(ctx context.Context, rec *TransactionRecord) error {
	if PostgresPool == nil {
		return nil
	}
	return RecordTransaction(ctx, rec)
}

func (s *Store) RecordPriceTicks(ctx context.Context, gameID string, volley int, prices map[string]float64) error {
	if PostgresPool == nil {
		return nil
	}
	return RecordPriceTicks(ctx, gameID, volley, prices)
}

func (s *Store) RecordGameCompletion(ctx context.Context, gameID, winnerID string, standings []StandingRecord) error {
	if PostgresPool == nil {
		return nil
	}
	return RecordGameCompletion(ctx, gameID, winnerID, standings)
}

func (s *Store) UpsertLiveRoom(ctx context.Context, info *LiveRoomInfo) error {
	if RedisClient == nil {
		return nil
	}
	return UpsertLiveRoom(ctx, info)
}

func (s *Store) RemoveLiveRoom(ctx context.Context, gameID string) error {
	if RedisClient == nil {
		return nil
	}
	return RemoveLiveRoom(ctx, gameID)
}
