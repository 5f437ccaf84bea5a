package hold

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Keys used by RedisManager:
//
//	<prefix>:seat:<schedule>:<n>   hold id owning seat n
//	<prefix>:hold:<schedule>:<id>  hash {seats, expires_at, created_at}
//	<prefix>:expiry                sorted set of "<schedule>|<id>" by expires_at
//
// Deadlines are unix milliseconds taken from the manager's clock.  Storage
// TTLs are the hold TTL plus LeakGuard; they only reclaim holds that the
// sweeper failed to release.

var acquireScript = redis.NewScript(`
	local id = ARGV[1]
	local taken = {}
	for i = 3, #KEYS do
		local owner = redis.call('GET', KEYS[i])
		if owner and owner ~= id then
			table.insert(taken, i - 2)
		end
	end
	if #taken > 0 then
		return taken
	end
	for i = 3, #KEYS do
		redis.call('SET', KEYS[i], id, 'PX', ARGV[3])
	end
	redis.call('HSET', KEYS[1], 'seats', ARGV[4], 'expires_at', ARGV[2], 'created_at', ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[6])
	return {}
`)

var releaseScript = redis.NewScript(`
	local seats = redis.call('HGET', KEYS[1], 'seats')
	redis.call('ZREM', KEYS[2], ARGV[2])
	if not seats then
		return 0
	end
	for n in string.gmatch(seats, '[^,]+') do
		local key = ARGV[3] .. n
		if redis.call('GET', key) == ARGV[1] then
			redis.call('DEL', key)
		end
	end
	redis.call('DEL', KEYS[1])
	return 1
`)

var extendScript = redis.NewScript(`
	local h = redis.call('HMGET', KEYS[1], 'seats', 'expires_at')
	if not h[1] then
		return -1
	end
	if tonumber(h[2]) < tonumber(ARGV[6]) then
		return -2
	end
	redis.call('HSET', KEYS[1], 'expires_at', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
	for n in string.gmatch(h[1], '[^,]+') do
		local key = ARGV[3] .. n
		if redis.call('GET', key) == ARGV[1] then
			redis.call('PEXPIRE', key, ARGV[5])
		end
	end
	return 1
`)

// RedisManager keeps holds in Redis so that several engine processes
// share them.  Each operation is a single Lua script and therefore atomic.
type RedisManager struct {
	rdb    *redis.Client
	prefix string
	cfg    Config
}

// NewRedisManager returns a manager storing keys under prefix.
func NewRedisManager(rdb *redis.Client, prefix string, cfg Config) *RedisManager {
	if prefix == "" {
		prefix = "hold"
	}
	return &RedisManager{rdb: rdb, prefix: prefix, cfg: cfg.withDefaults()}
}

func (m *RedisManager) seatPrefix(scheduleID string) string {
	return fmt.Sprintf("%s:seat:%s:", m.prefix, scheduleID)
}

func (m *RedisManager) holdKey(scheduleID, holdID string) string {
	return fmt.Sprintf("%s:hold:%s:%s", m.prefix, scheduleID, holdID)
}

func (m *RedisManager) expiryKey() string { return m.prefix + ":expiry" }

func member(scheduleID, holdID string) string { return scheduleID + "|" + holdID }

func (m *RedisManager) storageTTL(expiresAt time.Time) int64 {
	ttl := expiresAt.Sub(m.cfg.Clock.Now())
	if ttl < 0 {
		ttl = 0
	}
	return (ttl + m.cfg.LeakGuard).Milliseconds()
}

// Acquire claims every seat of req atomically with one script call.
func (m *RedisManager) Acquire(ctx context.Context, req Request) (model.Hold, error) {
	if err := m.cfg.checkTTL(req.TTL); err != nil {
		return model.Hold{}, err
	}
	now := m.cfg.Clock.Now()
	h := model.Hold{
		ID:         req.ID,
		ScheduleID: req.ScheduleID,
		Seats:      model.NormalizeSeats(req.Seats),
		ExpiresAt:  now.Add(req.TTL),
		CreatedAt:  now,
	}
	if len(h.Seats) == 0 {
		return model.Hold{}, model.ErrEmptySelection
	}
	return h, m.place(ctx, h)
}

// Restore re-creates h after a restart.
func (m *RedisManager) Restore(ctx context.Context, h model.Hold) error {
	h.Seats = model.NormalizeSeats(h.Seats)
	return m.place(ctx, h)
}

func (m *RedisManager) place(ctx context.Context, h model.Hold) error {
	keys := make([]string, 0, len(h.Seats)+2)
	keys = append(keys, m.holdKey(h.ScheduleID, h.ID), m.expiryKey())
	prefix := m.seatPrefix(h.ScheduleID)
	for _, n := range h.Seats {
		keys = append(keys, prefix+strconv.Itoa(n))
	}
	taken, err := acquireScript.Run(ctx, m.rdb, keys,
		h.ID,
		h.ExpiresAt.UnixMilli(),
		m.storageTTL(h.ExpiresAt),
		joinSeats(h.Seats),
		h.CreatedAt.UnixMilli(),
		member(h.ScheduleID, h.ID),
	).Int64Slice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("acquire hold %s: %w", h.ID, err)
	}
	if len(taken) > 0 {
		seats := make([]int, len(taken))
		for i, idx := range taken {
			seats[i] = h.Seats[idx-1]
		}
		return &model.SeatConflictError{ScheduleID: h.ScheduleID, Seats: seats}
	}
	return nil
}

// Release deletes the hold and its seat keys.
func (m *RedisManager) Release(ctx context.Context, scheduleID, holdID string) error {
	err := releaseScript.Run(ctx, m.rdb,
		[]string{m.holdKey(scheduleID, holdID), m.expiryKey()},
		holdID, member(scheduleID, holdID), m.seatPrefix(scheduleID),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release hold %s: %w", holdID, err)
	}
	return nil
}

// Extend moves the hold deadline to until and refreshes key TTLs.
func (m *RedisManager) Extend(ctx context.Context, scheduleID, holdID string, until time.Time) (model.Hold, error) {
	now := m.cfg.Clock.Now()
	if err := m.cfg.checkTTL(until.Sub(now)); err != nil {
		return model.Hold{}, err
	}
	res, err := extendScript.Run(ctx, m.rdb,
		[]string{m.holdKey(scheduleID, holdID), m.expiryKey()},
		holdID, member(scheduleID, holdID), m.seatPrefix(scheduleID),
		until.UnixMilli(), m.storageTTL(until), now.UnixMilli(),
	).Int64()
	if err != nil {
		return model.Hold{}, fmt.Errorf("extend hold %s: %w", holdID, err)
	}
	switch res {
	case -1:
		return model.Hold{}, notFound(scheduleID, holdID)
	case -2:
		return model.Hold{}, fmt.Errorf("hold %s: %w", holdID, model.ErrHoldExpired)
	}
	return m.Get(ctx, scheduleID, holdID)
}

// Get loads the hold from its hash.
func (m *RedisManager) Get(ctx context.Context, scheduleID, holdID string) (model.Hold, error) {
	fields, err := m.rdb.HGetAll(ctx, m.holdKey(scheduleID, holdID)).Result()
	if err != nil {
		return model.Hold{}, err
	}
	if len(fields) == 0 {
		return model.Hold{}, notFound(scheduleID, holdID)
	}
	return decodeHold(scheduleID, holdID, fields)
}

// Expired returns holds whose deadline passed.  A hold whose hash already
// vanished is returned with only its identifiers so that the caller can
// still release it and clear the index entry.
func (m *RedisManager) Expired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	if limit <= 0 {
		limit = 500
	}
	members, err := m.rdb.ZRangeByScore(ctx, m.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Hold, 0, len(members))
	for _, mem := range members {
		scheduleID, holdID, ok := strings.Cut(mem, "|")
		if !ok {
			continue
		}
		h, err := m.Get(ctx, scheduleID, holdID)
		if errors.Is(err, model.ErrNotFound) {
			h = model.Hold{ID: holdID, ScheduleID: scheduleID}
		} else if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func decodeHold(scheduleID, holdID string, f map[string]string) (model.Hold, error) {
	h := model.Hold{ID: holdID, ScheduleID: scheduleID}
	for _, s := range strings.Split(f["seats"], ",") {
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return model.Hold{}, fmt.Errorf("hold %s: bad seat %q", holdID, s)
		}
		h.Seats = append(h.Seats, n)
	}
	exp, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return model.Hold{}, fmt.Errorf("hold %s: bad expires_at %q", holdID, f["expires_at"])
	}
	created, _ := strconv.ParseInt(f["created_at"], 10, 64)
	h.ExpiresAt = time.UnixMilli(exp).UTC()
	h.CreatedAt = time.UnixMilli(created).UTC()
	return h, nil
}

func joinSeats(seats []int) string {
	parts := make([]string, len(seats))
	for i, n := range seats {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
