package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/AzielCF/az-restyle/infrastructure/valkey"
	"github.com/AzielCF/az-restyle/session/domain"
)

// ValkeySessionStore keeps sessions in Valkey so they survive restarts.
// Keys carry a native TTL, so abandoned sessions disappear on their own.
type ValkeySessionStore struct {
	client *valkey.Client
	prefix string
}

func NewValkeySessionStore(client *valkey.Client) *ValkeySessionStore {
	return &ValkeySessionStore{
		client: client,
		prefix: client.Key("session") + ":",
	}
}

func (s *ValkeySessionStore) fullKey(id string) string {
	return s.prefix + id
}

func (s *ValkeySessionStore) inner() valkeylib.Client {
	return s.client.Inner()
}

func (s *ValkeySessionStore) Save(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	builder := s.inner().B().Set().Key(s.fullKey(sess.ID)).Value(string(data))
	if ttl > 0 {
		err = s.inner().Do(ctx, builder.Ex(ttl).Build()).Error()
	} else {
		err = s.inner().Do(ctx, builder.Build()).Error()
	}
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get returns (nil, nil) if the key does not exist.
func (s *ValkeySessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	cmd := s.inner().B().Get().Key(s.fullKey(id)).Build()

	data, err := s.inner().Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkey.IsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *ValkeySessionStore) Delete(ctx context.Context, id string) error {
	cmd := s.inner().B().Del().Key(s.fullKey(id)).Build()
	if err := s.inner().Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List scans the session keyspace and fetches the values with one MGET.
func (s *ValkeySessionStore) List(ctx context.Context) ([]*domain.Session, error) {
	var keys []string
	var cursor uint64

	for {
		cmd := s.inner().B().Scan().Cursor(cursor).Match(s.prefix + "*").Count(100).Build()
		result, err := s.inner().Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		keys = append(keys, result.Elements...)

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil, nil
	}

	cmd := s.inner().B().Mget().Key(keys...).Build()
	values, err := s.inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to mget sessions: %w", err)
	}

	result := make([]*domain.Session, 0, len(values))
	for i, val := range values {
		if val == "" {
			continue // expired between SCAN and MGET
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(val), &sess); err != nil {
			logrus.Warnf("[SESSION] Failed to unmarshal session %s: %v", keys[i], err)
			continue
		}
		result = append(result, &sess)
	}
	return result, nil
}
