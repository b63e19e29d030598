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

// ErrTokenRecordNotFound is returned when a jti was never issued.
var ErrTokenRecordNotFound = errors.New("refresh token record not found")

// RotateStatus is the outcome of a conditional rotation attempt.
type RotateStatus int64

const (
	// RotateNotFound means no record was ever issued under the jti.
	RotateNotFound RotateStatus = 0
	// RotateExpired means the record exists but its expiry has passed.
	RotateExpired RotateStatus = 1
	// RotateRevoked means the record was already revoked; a redemption
	// attempt against it is a reuse signal.
	RotateRevoked RotateStatus = 2
	// RotateOK means this caller won the rotation: the record moved
	// active -> rotated exactly once.
	RotateOK RotateStatus = 3
)

// rotateTokenScript is a compare-and-swap on the record's revocation
// state. Exactly one of N concurrent redemptions of the same jti
// observes an active record and rotates it; every other caller sees
// the revoked state. The family and principal IDs come back on every
// status so the caller can run the reuse cascade.
const rotateTokenScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
  return {0, "", ""}
end

local family = redis.call("HGET", key, "family_id")
local principal = redis.call("HGET", key, "principal_id")

local revoked = redis.call("HGET", key, "revoked_at")
if revoked and revoked ~= "" then
  return {2, family, principal}
end

local expires = tonumber(redis.call("HGET", key, "expires_at"))
if not expires or expires <= now then
  return {1, family, principal}
end

redis.call("HSET", key, "revoked_at", ARGV[1])
redis.call("HSET", key, "reason", ARGV[2])
redis.call("HSET", key, "last_used_at", ARGV[1])
return {3, family, principal}
`

var rotateTokenLua = redis.NewScript(rotateTokenScript)

// revokeSetScript revokes every not-yet-revoked record named by the
// index set in KEYS[1]. Expiry is not consulted: a reuse cascade
// poisons the entire chain, expired members included.
const revokeSetScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, jti in ipairs(ids) do
  local key = ARGV[3] .. jti
  if redis.call("EXISTS", key) == 1 then
    local r = redis.call("HGET", key, "revoked_at")
    if not r or r == "" then
      redis.call("HSET", key, "revoked_at", ARGV[1])
      redis.call("HSET", key, "reason", ARGV[2])
      revoked = revoked + 1
    end
  end
end
return revoked
`

var revokeSetLua = redis.NewScript(revokeSetScript)

const revokeTokenScript = `
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
  return 0
end
local r = redis.call("HGET", key, "revoked_at")
if r and r ~= "" then
  return 0
end
redis.call("HSET", key, "revoked_at", ARGV[1])
redis.call("HSET", key, "reason", ARGV[2])
return 1
`

var revokeTokenLua = redis.NewScript(revokeTokenScript)

// SaveToken persists a new refresh-token record in the active state and
// indexes it under its family and principal. The record key carries the
// audit-retention TTL; the index sets share it.
func (s *Store) SaveToken(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	ttl := time.Until(rec.ExpiresAt) + s.retention

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tokenKey(rec.JTI), tokenFields(rec))
		pipe.Expire(ctx, s.tokenKey(rec.JTI), ttl)
		pipe.SAdd(ctx, s.familyKey(rec.FamilyID), rec.JTI)
		pipe.Expire(ctx, s.familyKey(rec.FamilyID), ttl)
		pipe.SAdd(ctx, s.principalTokensKey(rec.PrincipalID), rec.JTI)
		pipe.Expire(ctx, s.principalTokensKey(rec.PrincipalID), ttl)
		return nil
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// GetToken loads a refresh-token record by jti.
func (s *Store) GetToken(ctx context.Context, jti string) (*domain.RefreshTokenRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(jti)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(fields) == 0 {
		return nil, ErrTokenRecordNotFound
	}
	return tokenFromFields(jti, fields), nil
}

// RotateToken attempts the single permitted redemption of jti. On
// [RotateOK] the record has been atomically marked rotated and its
// last-used timestamp updated; the returned family and principal IDs
// identify the chain for successor issuance. On [RotateRevoked] and
// [RotateExpired] the IDs identify the chain for the reuse cascade.
func (s *Store) RotateToken(ctx context.Context, jti string, now time.Time) (RotateStatus, string, string, error) {
	result, err := rotateTokenLua.Run(
		ctx,
		s.rdb,
		[]string{s.tokenKey(jti)},
		now.Unix(),
		string(domain.ReasonRotated),
	).Result()
	if err != nil {
		return 0, "", "", storeErr(err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) != 3 {
		return 0, "", "", fmt.Errorf("%w: invalid rotate script response", domain.ErrStoreUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return 0, "", "", fmt.Errorf("%w: invalid rotate script status", domain.ErrStoreUnavailable)
	}

	return RotateStatus(code), luaString(parts[1]), luaString(parts[2]), nil
}

// RevokeFamily marks every not-yet-revoked record in the family with
// the given reason and returns how many records it touched. This is the
// explicit cascade operation behind theft detection.
func (s *Store) RevokeFamily(ctx context.Context, family string, reason domain.RevocationReason, now time.Time) (int, error) {
	return s.revokeSet(ctx, s.familyKey(family), reason, now)
}

// RevokeAllForPrincipal marks every not-yet-revoked record for the
// principal across all families.
func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string, reason domain.RevocationReason, now time.Time) (int, error) {
	return s.revokeSet(ctx, s.principalTokensKey(principalID), reason, now)
}

// RevokeToken marks a single record revoked if it is not already.
// Idempotent: revoking a missing or already-revoked record is a no-op.
func (s *Store) RevokeToken(ctx context.Context, jti string, reason domain.RevocationReason, now time.Time) error {
	err := revokeTokenLua.Run(
		ctx,
		s.rdb,
		[]string{s.tokenKey(jti)},
		now.Unix(),
		string(reason),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return storeErr(err)
	}
	return nil
}

func (s *Store) revokeSet(ctx context.Context, setKey string, reason domain.RevocationReason, now time.Time) (int, error) {
	result, err := revokeSetLua.Run(
		ctx,
		s.rdb,
		[]string{setKey},
		now.Unix(),
		string(reason),
		s.prefix+":rt:",
	).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, storeErr(err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid revoke script response", domain.ErrStoreUnavailable)
	}
	return int(count), nil
}

func luaString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func tokenFields(rec *domain.RefreshTokenRecord) map[string]interface{} {
	fields := map[string]interface{}{
		"principal_id": rec.PrincipalID,
		"family_id":    rec.FamilyID,
		"issued_at":    strconv.FormatInt(rec.IssuedAt.Unix(), 10),
		"expires_at":   strconv.FormatInt(rec.ExpiresAt.Unix(), 10),
		"last_used_at": strconv.FormatInt(rec.IssuedAt.Unix(), 10),
		"revoked_at":   "",
		"reason":       "",
	}
	if rec.UserAgent != "" {
		fields["user_agent"] = rec.UserAgent
	}
	if rec.IP != "" {
		fields["ip"] = rec.IP
	}
	return fields
}

func tokenFromFields(jti string, fields map[string]string) *domain.RefreshTokenRecord {
	rec := &domain.RefreshTokenRecord{
		JTI:         jti,
		PrincipalID: fields["principal_id"],
		FamilyID:    fields["family_id"],
		IssuedAt:    unixField(fields["issued_at"]),
		ExpiresAt:   unixField(fields["expires_at"]),
		LastUsedAt:  unixField(fields["last_used_at"]),
		Reason:      domain.RevocationReason(fields["reason"]),
		UserAgent:   fields["user_agent"],
		IP:          fields["ip"],
	}
	if fields["revoked_at"] != "" {
		rec.RevokedAt = unixField(fields["revoked_at"])
	}
	return rec
}

func unixField(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
