// Package sessions stores refresh sessions and pending OAuth states.
package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/ieltstutor/core/auth"
)

const (
	sessionPrefix = "ieltstutor:session:"
	statePrefix   = "ieltstutor:oauthstate:"
)

var errExpired = errors.New("already expired")

// RedisStore lets redis expire entries through their TTL, derived from ExpiresAt.
type RedisStore struct {
	client redis.UniversalClient
}

var _ auth.Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisClient connects to the redis instance at url, e.g. `redis://localhost:6379/0`.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	client := redis.NewClient(opts)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

func (s *RedisStore) set(ctx context.Context, key string, v interface{}, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return errExpired
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshalling")
	}
	return errors.Wrap(s.client.Set(ctx, key, data, ttl).Err(), "redis set")
}

func (s *RedisStore) SaveSession(ctx context.Context, sess auth.RefreshSession) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	return errors.Wrap(s.set(ctx, sessionPrefix+sess.ID, sess, sess.ExpiresAt), "saving session")
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (auth.RefreshSession, error) {
	if id == "" {
		return auth.RefreshSession{}, auth.ErrNotFound
	}
	data, err := s.client.Get(ctx, sessionPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.RefreshSession{}, auth.ErrNotFound
		}
		return auth.RefreshSession{}, errors.Wrap(err, "redis get")
	}

	var sess auth.RefreshSession
	if err = json.Unmarshal(data, &sess); err != nil {
		return auth.RefreshSession{}, errors.Wrap(err, "unmarshalling session")
	}
	// the key TTL and ExpiresAt may disagree by a clock tick
	if sess.Expired() {
		if err = s.DeleteSession(ctx, id); err != nil {
			return auth.RefreshSession{}, errors.Wrap(err, "deleting expired session")
		}
		return auth.RefreshSession{}, auth.ErrNotFound
	}
	return sess, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return errors.Wrap(s.client.Del(ctx, sessionPrefix+id).Err(), "redis del")
}

func (s *RedisStore) SaveState(ctx context.Context, state auth.OAuthState) error {
	if state.State == "" {
		return errors.New("state cannot be empty")
	}
	return errors.Wrap(s.set(ctx, statePrefix+state.State, state, state.ExpiresAt), "saving oauth state")
}

func (s *RedisStore) PopState(ctx context.Context, state string) (auth.OAuthState, error) {
	if state == "" {
		return auth.OAuthState{}, auth.ErrNotFound
	}
	data, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return auth.OAuthState{}, auth.ErrNotFound
		}
		return auth.OAuthState{}, errors.Wrap(err, "redis getdel")
	}

	var st auth.OAuthState
	if err = json.Unmarshal(data, &st); err != nil {
		return auth.OAuthState{}, errors.Wrap(err, "unmarshalling oauth state")
	}
	if st.Expired() {
		return auth.OAuthState{}, auth.ErrNotFound
	}
	return st, nil
}
