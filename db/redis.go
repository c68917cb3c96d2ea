package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"stockvolley/config"

	"github.com/redis/go-redis/v9"
)

var (
	// RedisClient is the global Redis client instance
	RedisClient *redis.Client
)

// LiveRoomInfo is the lobby-visible state of a running game room, mirrored
// into Redis so the lobby listing works without touching room goroutines.
type LiveRoomInfo struct {
	GameID     string    `json:"gameId"`
	Status     string    `json:"status"` // "waiting", "active", "completed"
	Players    int       `json:"players"`
	Volley     int       `json:"volley"`
	MaxVolleys int       `json:"maxVolleys"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InitRedis initializes the Redis client connection
func InitRedis() error {
	log.Println("🔌 Connecting to Redis...")

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			redisDB = db
		}
	}

	RedisClient = redis.NewClient(&redis.Options{
		Addr:         redisURL,
		Password:     redisPassword,
		DB:           redisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected successfully - URL: %s", redisURL)
	return nil
}

// CloseRedis closes the Redis connection
func CloseRedis() error {
	if RedisClient != nil {
		log.Println("🔌 Closing Redis connection...")
		return RedisClient.Close()
	}
	return nil
}

/* =========================
   LIVE ROOM LOBBY CACHE
   Redis Key: room:{gameId} -> JSON LiveRoomInfo
========================= */

// UpsertLiveRoom stores or refreshes a room's lobby entry
func UpsertLiveRoom(ctx context.Context, info *LiveRoomInfo) error {
	if RedisClient == nil {
		return nil
	}

	key := fmt.Sprintf(config.RedisLiveRoomKey, info.GameID)

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal room info: %w", err)
	}

	if err := RedisClient.Set(ctx, key, data, config.LiveRoomTTL).Err(); err != nil {
		return fmt.Errorf("failed to store room info: %w", err)
	}

	return nil
}

// GetLiveRoom retrieves one room's lobby entry
func GetLiveRoom(ctx context.Context, gameID string) (*LiveRoomInfo, error) {
	if RedisClient == nil {
		return nil, nil
	}

	key := fmt.Sprintf(config.RedisLiveRoomKey, gameID)

	data, err := RedisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // Room doesn't exist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room info: %w", err)
	}

	var info LiveRoomInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room info: %w", err)
	}

	return &info, nil
}

// ListLiveRooms returns every non-completed room currently in the lobby
func ListLiveRooms(ctx context.Context) ([]*LiveRoomInfo, error) {
	if RedisClient == nil {
		return []*LiveRoomInfo{}, nil
	}

	var rooms []*LiveRoomInfo
	iter := RedisClient.Scan(ctx, 0, config.RedisLiveRoomPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := RedisClient.Get(ctx, iter.Val()).Result()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get room %s: %w", iter.Val(), err)
		}

		var info LiveRoomInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			log.Printf("⚠️  Failed to unmarshal room %s: %v", iter.Val(), err)
			continue
		}
		rooms = append(rooms, &info)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan rooms: %w", err)
	}

	return rooms, nil
}

// RemoveLiveRoom deletes a room's lobby entry on completion
func RemoveLiveRoom(ctx context.Context, gameID string) error {
	if RedisClient == nil {
		return nil
	}

	key := fmt.Sprintf(config.RedisLiveRoomKey, gameID)
	if err := RedisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to remove room info: %w", err)
	}

	return nil
}

/* =========================
   HEALTH CHECK
========================= */

// HealthCheck performs a Redis health check
func HealthCheck(ctx context.Context) error {
	if RedisClient == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return RedisClient.Ping(ctx).Err()
}
