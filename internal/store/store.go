// Package store is the Redis-backed credential store: principals and
// refresh-token records, with the atomic operations the rotation
// protocol depends on.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldline/authd/internal/domain"
)

// DefaultRetention is how long revoked and expired token records stay
// queryable past their expiry. Records are never deleted by the core;
// the retention TTL is the only thing that ever reclaims them.
const DefaultRetention = 90 * 24 * time.Hour

// Store persists principals and refresh-token records in Redis.
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New creates a [Store] on the given Redis client. prefix namespaces
// all keys; a non-positive retention falls back to [DefaultRetention].
func New(rdb redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "authd"
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{rdb: rdb, prefix: prefix, retention: retention}
}

func (s *Store) principalKey(id string) string       { return s.prefix + ":pr:" + id }
func (s *Store) emailKey(email string) string        { return s.prefix + ":pe:" + email }
func (s *Store) tokenKey(jti string) string          { return s.prefix + ":rt:" + jti }
func (s *Store) familyKey(family string) string      { return s.prefix + ":tf:" + family }
func (s *Store) principalTokensKey(id string) string { return s.prefix + ":tp:" + id }

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// CreatePrincipal atomically claims the (normalized) email and persists
// the principal. Returns [domain.ErrDuplicateIdentity] if the email is
// already taken.
func (s *Store) CreatePrincipal(ctx context.Context, p *domain.Principal) error {
	ok, err := s.rdb.SetNX(ctx, s.emailKey(p.Email), p.ID, 0).Result()
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return domain.ErrDuplicateIdentity
	}

	if err := s.rdb.HSet(ctx, s.principalKey(p.ID), principalFields(p)).Err(); err != nil {
		// Release the claimed email so a retry is not wedged.
		_ = s.rdb.Del(ctx, s.emailKey(p.Email)).Err()
		return storeErr(err)
	}

	return nil
}

// GetPrincipalByEmail resolves the email index and loads the principal.
func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	id, err := s.rdb.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPrincipalNotFound
		}
		return nil, storeErr(err)
	}
	return s.GetPrincipalByID(ctx, id)
}

// GetPrincipalByID loads a principal record.
func (s *Store) GetPrincipalByID(ctx context.Context, id string) (*domain.Principal, error) {
	fields, err := s.rdb.HGetAll(ctx, s.principalKey(id)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrPrincipalNotFound
	}
	return principalFromFields(id, fields), nil
}

// MarkEmailVerified flips the verified flag on an existing principal.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	exists, err := s.rdb.Exists(ctx, s.principalKey(id)).Result()
	if err != nil {
		return storeErr(err)
	}
	if exists == 0 {
		return domain.ErrPrincipalNotFound
	}
	if err := s.rdb.HSet(ctx, s.principalKey(id), "email_verified", "1").Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// UpdatePasswordHash replaces the stored credential hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	exists, err := s.rdb.Exists(ctx, s.principalKey(id)).Result()
	if err != nil {
		return storeErr(err)
	}
	if exists == 0 {
		return domain.ErrPrincipalNotFound
	}
	if err := s.rdb.HSet(ctx, s.principalKey(id), "password_hash", hash).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Ping reports point-in-time Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

func principalFields(p *domain.Principal) map[string]interface{} {
	verified := "0"
	if p.EmailVerified {
		verified = "1"
	}
	return map[string]interface{}{
		"email":          p.Email,
		"full_name":      p.FullName,
		"role":           p.Role,
		"email_verified": verified,
		"password_hash":  p.PasswordHash,
		"created_at":     strconv.FormatInt(p.CreatedAt.Unix(), 10),
	}
}

func principalFromFields(id string, fields map[string]string) *domain.Principal {
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return &domain.Principal{
		ID:            id,
		Email:         fields["email"],
		FullName:      fields["full_name"],
		Role:          fields["role"],
		EmailVerified: fields["email_verified"] == "1",
		PasswordHash:  fields["password_hash"],
		CreatedAt:     time.Unix(createdAt, 0),
	}
}
