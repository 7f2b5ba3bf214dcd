package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/repsync/internal/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const maxTxRetries = 8

// keyMissing is what PTTL reports for a key that does not exist.
const keyMissing = -2 * time.Nanosecond

// Redis keeps each live session under a handful of keys sharing one TTL:
//
//	session:<id>               session metadata (JSON, no participants)
//	session:<id>:participants  hash participantID -> participant JSON
//	session:<id>:signaling     list of signaling messages, Seq = position (1-based)
//	code:<code>                join code -> session id
//
// Change feed events are published on session:<id>:events.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func sessionKey(id string) string      { return "session:" + id }
func participantsKey(id string) string { return "session:" + id + ":participants" }
func signalingKey(id string) string    { return "session:" + id + ":signaling" }
func eventsChannel(id string) string   { return "session:" + id + ":events" }
func codeKey(code string) string       { return "code:" + code }

func encodeMeta(s *models.Session) ([]byte, error) {
	meta := *s
	meta.Participants = nil
	return json.Marshal(meta)
}

func (r *Redis) CreateSession(ctx context.Context, s *models.Session) error {
	meta, err := encodeMeta(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Reserve the code first so collisions never clobber another session
	ok, err := r.client.SetNX(ctx, codeKey(s.Code), s.ID, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve code: %w", err)
	}
	if !ok {
		return fmt.Errorf("code %s: %w", s.Code, ErrConflict)
	}

	ok, err = r.client.SetNX(ctx, sessionKey(s.ID), meta, r.ttl).Result()
	if err != nil || !ok {
		r.client.Del(ctx, codeKey(s.Code))
		if err != nil {
			return fmt.Errorf("store session: %w", err)
		}
		return fmt.Errorf("session %s: %w", s.ID, ErrConflict)
	}

	if len(s.Participants) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(s.Participants))
	for pid, p := range s.Participants {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode participant: %w", err)
		}
		fields[pid] = data
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, participantsKey(s.ID), fields)
		pipe.Expire(ctx, participantsKey(s.ID), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store participants: %w", err)
	}
	return nil
}

func (r *Redis) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return r.load(ctx, r.client, id)
}

type sessionReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// load reads the session through c, which is either the client or a WATCH transaction.
func (r *Redis) load(ctx context.Context, c sessionReader, id string) (*models.Session, error) {
	data, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	fields, err := c.HGetAll(ctx, participantsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get participants: %w", err)
	}
	s.Participants = make(map[string]*models.Participant, len(fields))
	for pid, raw := range fields {
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.WithError(err).WithField("participant", pid).Warn("skipping undecodable participant")
			continue
		}
		s.Participants[pid] = &p
	}
	return &s, nil
}

func (r *Redis) ResolveCode(ctx context.Context, code string) (string, error) {
	id, err := r.client.Get(ctx, codeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("code %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolve code: %w", err)
	}
	return id, nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key changes.
func (r *Redis) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("too many concurrent updates: %w", ErrConflict)
}

func (r *Redis) UpdateMeta(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	var updated *models.Session
	err := r.watch(ctx, func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		meta, err := encodeMeta(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(id), meta, redis.KeepTTL)
			return nil
		})
		updated = s
		return err
	}, sessionKey(id), participantsKey(id))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Redis) AddParticipant(ctx context.Context, id string, p *models.Participant, limit int) (*models.Participant, bool, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, false, fmt.Errorf("encode participant: %w", err)
	}

	var (
		out     *models.Participant
		created bool
	)
	err = r.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}

		raw, err := tx.HGet(ctx, participantsKey(id), p.ID).Bytes()
		switch {
		case err == nil:
			var existing models.Participant
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("decode participant: %w", err)
			}
			out, created = &existing, false
			return nil
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("get participant: %w", err)
		}

		if limit > 0 {
			size, err := tx.HLen(ctx, participantsKey(id)).Result()
			if err != nil {
				return fmt.Errorf("count participants: %w", err)
			}
			if size >= int64(limit) {
				return fmt.Errorf("session %s: %w", id, ErrFull)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, participantsKey(id), p.ID, data)
			return nil
		})
		out, created = p, true
		return err
	}, sessionKey(id), participantsKey(id))
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *Redis) UpdateParticipant(ctx context.Context, id, participantID string, fn func(*models.Session, *models.Participant) error) (*models.Participant, error) {
	var updated models.Participant
	err := r.watch(ctx, func(tx *redis.Tx) error {
		meta, err := tx.Get(ctx, sessionKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		var s models.Session
		if err := json.Unmarshal(meta, &s); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}

		raw, err := tx.HGet(ctx, participantsKey(id), participantID).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("participant %s: %w", participantID, ErrNoParticipant)
		}
		if err != nil {
			return fmt.Errorf("get participant: %w", err)
		}
		if err := json.Unmarshal(raw, &updated); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		if err := fn(&s, &updated); err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode participant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, participantsKey(id), participantID, data)
			return nil
		})
		return err
	}, sessionKey(id), participantsKey(id))
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *Redis) DeleteSession(ctx context.Context, id string) error {
	s, err := r.load(ctx, r.client, id)
	if err != nil {
		return err
	}
	keys := []string{sessionKey(id), participantsKey(id), signalingKey(id), codeKey(s.Code)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendSignal pushes msg onto the mailbox of a live session. The mailbox
// expires together with the session key.
func (r *Redis) AppendSignal(ctx context.Context, id string, msg models.SignalMessage) (models.SignalMessage, error) {
	msg.Seq = 0
	data, err := json.Marshal(msg)
	if err != nil {
		return models.SignalMessage{}, fmt.Errorf("encode signal: %w", err)
	}

	var push *redis.IntCmd
	err = r.watch(ctx, func(tx *redis.Tx) error {
		ttl, err := tx.PTTL(ctx, sessionKey(id)).Result()
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		if ttl == keyMissing {
			return fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			push = pipe.RPush(ctx, signalingKey(id), string(data))
			if ttl > 0 {
				pipe.PExpire(ctx, signalingKey(id), ttl)
			}
			return nil
		})
		return err
	}, sessionKey(id))
	if err != nil {
		return models.SignalMessage{}, err
	}
	msg.Seq = push.Val()
	return msg, nil
}

func (r *Redis) Signals(ctx context.Context, id string, after int64) ([]models.SignalMessage, error) {
	if after < 0 {
		after = 0
	}
	raw, err := r.client.LRange(ctx, signalingKey(id), after, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	out := make([]models.SignalMessage, 0, len(raw))
	for i, item := range raw {
		var msg models.SignalMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		msg.Seq = after + int64(i) + 1
		out = append(out, msg)
	}
	return out, nil
}

func (r *Redis) Publish(ctx context.Context, id string, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, eventsChannel(id), string(data)).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, id string) (Subscription, error) {
	ps := r.client.Subscribe(ctx, eventsChannel(id))
	// Wait for confirmation so no event published after Subscribe returns is lost
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSub{
		ps:   ps,
		ch:   make(chan models.Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	go sub.run()
	return sub, nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan models.Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) run() {
	defer close(s.ch)
	for msg := range s.ps.Channel() {
		var ev models.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.WithError(err).WithField("channel", msg.Channel).Warn("dropping undecodable event")
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) Events() <-chan models.Event {
	return s.ch
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
