// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

// Package redis stores sessions in Redis so several backend replicas can share
// one history.
//
// Layout, with every key under the configured prefix:
//
//	<prefix>:session:<id>           hash of user_id, title, created_at, updated_at
//	<prefix>:session:<id>:messages  list of JSON-encoded messages
//	<prefix>:user:<uid>:sessions    sorted set of session IDs scored by updated_at
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/safebill/assistant/internal/store"
	sberr "github.com/safebill/assistant/pkg/errors"
)

func init() {
	store.RegisterBackend("redis", func(cfg *store.StorageConfig) (store.SessionStore, error) {
		return New(context.Background(), cfg.Redis)
	})
}

var _ store.SessionStore = (*Store)(nil)

// maxTxRetries bounds optimistic-lock retries on a contended session.
const maxTxRetries = 5

// Store implements store.SessionStore on a go-redis client.
type Store struct {
	client *goredis.Client
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg store.RedisConfig) (*Store, error) {
	if cfg.Addr == "" {
		return nil, sberr.New(sberr.CodeStoreInvalidInput, "redis backend requires storage.redis.addr")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		slog.Error("failed to establish redis connection", "addr", cfg.Addr, "error", err)
		return nil, store.ErrDatabase(err, "connecting to redis at %s", cfg.Addr)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "assistant"
	}
	return &Store{client: client, prefix: prefix}, nil
}

func (s *Store) sessionKey(id string) string  { return s.prefix + ":session:" + id }
func (s *Store) messagesKey(id string) string { return s.prefix + ":session:" + id + ":messages" }
func (s *Store) userKey(uid string) string    { return s.prefix + ":user:" + uid + ":sessions" }

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) CreateSession(ctx context.Context, session *store.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = session.CreatedAt
	}

	key := s.sessionKey(session.ID)
	created, err := s.client.HSetNX(ctx, key, "user_id", session.UserID).Result()
	if err != nil {
		return store.ErrDatabase(err, "creating session %s", session.ID)
	}
	if !created {
		return store.ErrSessionExists(session.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"title", session.Title,
			"created_at", formatTime(session.CreatedAt),
			"updated_at", formatTime(updated),
		)
		pipe.ZAdd(ctx, s.userKey(session.UserID), goredis.Z{Score: score(updated), Member: session.ID})
		return nil
	})
	if err != nil {
		return store.ErrDatabase(err, "creating session %s", session.ID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, store.ErrDatabase(err, "getting session %s", id)
	}
	if len(fields) == 0 {
		return nil, store.ErrSessionNotFound(id)
	}
	return decodeSession(id, fields), nil
}

func (s *Store) UpdateSession(ctx context.Context, session *store.Session) error {
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	return s.withSession(ctx, session.ID, func(tx *goredis.Tx, cur *store.Session) error {
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, s.sessionKey(session.ID), "title", session.Title, "updated_at", formatTime(updated))
			pipe.ZAdd(ctx, s.userKey(cur.UserID), goredis.Z{Score: score(updated), Member: session.ID})
			return nil
		})
		return err
	})
}

func (s *Store) ListSessions(ctx context.Context, userID string, opts store.ListOpts) ([]*store.Session, error) {
	start := int64(opts.Offset)
	stop := start + int64(opts.EffectiveLimit()) - 1

	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), start, stop).Result()
	if err != nil {
		return nil, store.ErrDatabase(err, "listing sessions for user %s", userID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, store.ErrDatabase(err, "listing sessions for user %s", userID)
	}

	sessions := make([]*store.Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// Index entry outlived its session.
			continue
		}
		sessions = append(sessions, decodeSession(ids[i], fields))
	}
	return sessions, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.withSession(ctx, id, func(tx *goredis.Tx, cur *store.Session) error {
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, s.sessionKey(id), s.messagesKey(id))
			pipe.ZRem(ctx, s.userKey(cur.UserID), id)
			return nil
		})
		return err
	})
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg *store.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	cp := *msg
	cp.SessionID = sessionID
	data, err := json.Marshal(encodeMessage(&cp))
	if err != nil {
		return store.ErrDatabase(err, "encoding message %s", msg.ID)
	}

	return s.withSession(ctx, sessionID, func(tx *goredis.Tx, cur *store.Session) error {
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.RPush(ctx, s.messagesKey(sessionID), data)
			if msg.CreatedAt.After(cur.UpdatedAt) {
				pipe.HSet(ctx, s.sessionKey(sessionID), "updated_at", formatTime(msg.CreatedAt))
				pipe.ZAdd(ctx, s.userKey(cur.UserID), goredis.Z{Score: score(msg.CreatedAt), Member: sessionID})
			}
			return nil
		})
		return err
	})
}

func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*store.Message, error) {
	n, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, store.ErrDatabase(err, "getting messages for session %s", sessionID)
	}
	if n == 0 {
		return nil, store.ErrSessionNotFound(sessionID)
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, store.ErrDatabase(err, "getting messages for session %s", sessionID)
	}

	msgs := make([]*store.Message, 0, len(raw))
	for _, item := range raw {
		var rec messageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, store.ErrDatabase(err, "decoding message in session %s", sessionID)
		}
		msgs = append(msgs, rec.message())
	}
	return msgs, nil
}

// withSession runs fn inside a WATCH on the session hash, retrying when a
// concurrent writer touches it first.
func (s *Store) withSession(ctx context.Context, id string, fn func(tx *goredis.Tx, cur *store.Session) error) error {
	key := s.sessionKey(id)
	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return store.ErrSessionNotFound(id)
		}
		return fn(tx, decodeSession(id, fields))
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && sberr.CodeOf(err) == "" {
			return store.ErrDatabase(err, "writing session %s", id)
		}
		return err
	}
	return sberr.Errorf(sberr.CodeStoreSessionUpdateConflict, "session %s: too many concurrent writers", id)
}

type messageRecord struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

func encodeMessage(m *store.Message) messageRecord {
	return messageRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: formatTime(m.CreatedAt),
	}
}

func (r messageRecord) message() *store.Message {
	return &store.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      store.MessageRole(r.Role),
		Content:   r.Content,
		CreatedAt: parseTime(r.CreatedAt),
	}
}

func decodeSession(id string, fields map[string]string) *store.Session {
	return &store.Session{
		ID:        id,
		UserID:    fields["user_id"],
		Title:     fields["title"],
		CreatedAt: parseTime(fields["created_at"]),
		UpdatedAt: parseTime(fields["updated_at"]),
	}
}

// score orders sessions by update time. Microsecond resolution keeps the
// value exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || s == "" {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
