package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/blogdash/internal/model"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix はセッションキーの接頭辞。
const redisKeyPrefix = "blogdash:session:"

// redisRecord はRedisに保存するセッションのJSON表現。
type redisRecord struct {
	ID        string         `json:"id"`
	Identity  model.Identity `json:"identity"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// RedisStore はRedisにセッションを保持するStore。
// キーのTTLをセッションの有効期限に合わせ、期限切れはRedis側で削除される。
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Create はセッションを保存する。
func (s *RedisStore) Create(ctx context.Context, sess *model.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := json.Marshal(redisRecord{
		ID:        sess.ID,
		Identity:  sess.Identity,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		CreatedAt: sess.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+sess.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。存在しない・期限切れの場合はnilを返す。
func (s *RedisStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	sess := &model.Session{
		ID:        rec.ID,
		Identity:  rec.Identity,
		Token:     rec.Token,
		ExpiresAt: rec.ExpiresAt,
		CreatedAt: rec.CreatedAt,
	}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
