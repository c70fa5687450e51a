package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"statsbridge/core"
	"statsbridge/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr"`
	Password     string        `json:"password,omitempty"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	// KeyPrefix namespaces every key the client touches.
	KeyPrefix string `json:"key_prefix"`
	// OpTimeout bounds each native call, including those answered by callback.
	OpTimeout time.Duration `json:"op_timeout"`
	// MetaCacheSize is the number of leaderboard descriptions kept in process.
	MetaCacheSize int `json:"meta_cache_size"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		KeyPrefix:     "statsbridge",
		OpTimeout:     5 * time.Second,
		MetaCacheSize: 256,
	}
}

// Client is a native client backed by Redis.
// Data structure:
// - {prefix}:user:{id}:stats:working -> hash of pending stat values
// - {prefix}:user:{id}:stats:stored -> hash of stored stat values
// - {prefix}:user:{id}:achievements -> set of unlocked achievements
// - {prefix}:user:{id}:friends -> set of friend user ids
// - {prefix}:leaderboards:ids -> hash of leaderboard name to id
// - {prefix}:leaderboards:seq -> id counter
// - {prefix}:leaderboards:meta -> hash of {id}:name, {id}:sort, {id}:display
// - {prefix}:leaderboard:{id}:scores -> sorted set of user id by score
// - {prefix}:leaderboard:{id}:details -> hash of user id to JSON details
type Client struct {
	rdb      *redis.Client
	prefix   string
	timeout  time.Duration
	user     core.UserID
	defaults map[string]int32
	friends  []core.UserID
	meta     *lru.Cache[uint64, boardMeta]
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type boardMeta struct {
	name    string
	sort    core.SortMethod
	display core.DisplayType
}

// Option configures the session a Client serves.
type Option func(*Client) error

func WithUser(id core.UserID) Option {
	return func(c *Client) error { c.user = id; return nil }
}

// WithStats defines the stats the session knows about, with their defaults.
func WithStats(defs map[string]int32) Option {
	return func(c *Client) error { maps.Copy(c.defaults, defs); return nil }
}

// WithFriends records friends of the session user. They are stored once all
// options are applied, under the final session user.
func WithFriends(ids ...core.UserID) Option {
	return func(c *Client) error { c.friends = append(c.friends, ids...); return nil }
}

// WithLogger sets the logger used for data the client skips over.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		if l != nil {
			c.log = l
		}
		return nil
	}
}

// New connects to Redis and returns a native client for one session.
func New(config Config, opts ...Option) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c, err := NewWithClient(rdb, config, opts...)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

// NewWithClient creates a Client using an existing Redis client (useful for testing)
func NewWithClient(rdb *redis.Client, config Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if config.KeyPrefix == "" {
		config.KeyPrefix = def.KeyPrefix
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = def.OpTimeout
	}
	if config.MetaCacheSize <= 0 {
		config.MetaCacheSize = def.MetaCacheSize
	}
	cache, err := lru.New[uint64, boardMeta](config.MetaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("meta cache: %w", err)
	}
	c := &Client{
		rdb:      rdb,
		prefix:   config.KeyPrefix,
		timeout:  config.OpTimeout,
		defaults: map[string]int32{},
		meta:     cache,
		log:      slog.Default(),
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if err := c.saveFriends(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) saveFriends() error {
	if len(c.friends) == 0 {
		return nil
	}
	members := make([]any, len(c.friends))
	for i, id := range c.friends {
		members[i] = userMember(id)
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.rdb.SAdd(ctx, c.friendsKey(), members...).Err(); err != nil {
		return fmt.Errorf("failed to store friends: %w", err)
	}
	return nil
}

// Close waits for in-flight callbacks and closes the Redis connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	return c.rdb.Close()
}

func (c *Client) UserStats() engine.UserStats { return c }

func (c *Client) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// async runs fn on its own goroutine under the operation timeout. Calls made
// after Close are dropped and their callbacks never fire.
func (c *Client) async(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		ctx, cancel := c.opContext()
		defer cancel()
		fn(ctx)
	}()
}

func userMember(id core.UserID) string { return strconv.FormatUint(uint64(id), 10) }

func (c *Client) userKey(suffix string) string {
	return fmt.Sprintf("%s:user:%d:%s", c.prefix, c.user, suffix)
}

func (c *Client) workingKey() string      { return c.userKey("stats:working") }
func (c *Client) storedKey() string       { return c.userKey("stats:stored") }
func (c *Client) achievementsKey() string { return c.userKey("achievements") }
func (c *Client) friendsKey() string      { return c.userKey("friends") }
func (c *Client) idsKey() string          { return c.prefix + ":leaderboards:ids" }
func (c *Client) seqKey() string          { return c.prefix + ":leaderboards:seq" }
func (c *Client) metaKey() string         { return c.prefix + ":leaderboards:meta" }

func (c *Client) boardKey(id uint64, suffix string) string {
	return fmt.Sprintf("%s:leaderboard:%d:%s", c.prefix, id, suffix)
}

func (c *Client) GetStatInt32(name string) (int32, error) {
	def, ok := c.defaults[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	ctx, cancel := c.opContext()
	defer cancel()
	v, err := c.rdb.HGet(ctx, c.workingKey(), name).Int64()
	if errors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get stat: %w", err)
	}
	return int32(v), nil
}

func (c *Client) SetStatInt32(name string, value int32) error {
	if _, ok := c.defaults[name]; !ok {
		return fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	ctx, cancel := c.opContext()
	defer cancel()
	if err := c.rdb.HSet(ctx, c.workingKey(), name, value).Err(); err != nil {
		return fmt.Errorf("failed to set stat: %w", err)
	}
	return nil
}

// StoreStats copies the working stats over the stored ones in one transaction.
func (c *Client) StoreStats() error {
	ctx, cancel := c.opContext()
	defer cancel()
	working, err := c.rdb.HGetAll(ctx, c.workingKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.storedKey())
		if len(working) > 0 {
			p.HSet(ctx, c.storedKey(), working)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store stats: %w", err)
	}
	return nil
}

func (c *Client) ResetAllStats(achievementsToo bool) error {
	ctx, cancel := c.opContext()
	defer cancel()
	keys := []string{c.workingKey(), c.storedKey()}
	if achievementsToo {
		keys = append(keys, c.achievementsKey())
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	return nil
}

// StoredStat returns the last stored value of a stat.
func (c *Client) StoredStat(name string) (int32, bool) {
	def, ok := c.defaults[name]
	if !ok {
		return 0, false
	}
	ctx, cancel := c.opContext()
	defer cancel()
	v, err := c.rdb.HGet(ctx, c.storedKey(), name).Int64()
	if err != nil {
		return def, errors.Is(err, redis.Nil)
	}
	return int32(v), true
}

// UnlockAchievement marks an achievement as unlocked for the session user.
func (c *Client) UnlockAchievement(name string) error {
	ctx, cancel := c.opContext()
	defer cancel()
	return c.rdb.SAdd(ctx, c.achievementsKey(), name).Err()
}

// Achieved reports whether an achievement is unlocked.
func (c *Client) Achieved(name string) bool {
	ctx, cancel := c.opContext()
	defer cancel()
	ok, err := c.rdb.SIsMember(ctx, c.achievementsKey(), name).Result()
	return err == nil && ok
}

func (c *Client) FindLeaderboard(name string, cb engine.LeaderboardCallback) {
	c.async(func(ctx context.Context) {
		id, err := c.rdb.HGet(ctx, c.idsKey(), name).Uint64()
		if errors.Is(err, redis.Nil) {
			cb(nil, nil)
			return
		}
		if err != nil {
			cb(nil, fmt.Errorf("failed to find leaderboard: %w", err))
			return
		}
		h := core.NewLeaderboardHandle(id)
		cb(&h, nil)
	})
}

// Lua script that returns the id of a named leaderboard, creating the board
// and its metadata when missing. Every key it touches is declared in KEYS.
var findOrCreateScript = redis.NewScript(`
	local ids, seq, meta = KEYS[1], KEYS[2], KEYS[3]
	local name = ARGV[1]
	local existing = redis.call('HGET', ids, name)
	if existing then
		return tonumber(existing)
	end
	local id = redis.call('INCR', seq)
	redis.call('HSET', ids, name, id)
	redis.call('HSET', meta, id .. ':name', name, id .. ':sort', ARGV[2], id .. ':display', ARGV[3])
	return id
`)

func (c *Client) FindOrCreateLeaderboard(name string, sortMethod core.SortMethod, display core.DisplayType, cb engine.LeaderboardCallback) {
	if err := core.ValidateLeaderboardName(name); err != nil {
		c.async(func(context.Context) { cb(nil, err) })
		return
	}
	c.async(func(ctx context.Context) {
		id, err := findOrCreateScript.Run(ctx, c.rdb, []string{c.idsKey(), c.seqKey(), c.metaKey()},
			name, int(sortMethod), int(display)).Int64()
		if err != nil {
			cb(nil, fmt.Errorf("failed to create leaderboard: %w", err))
			return
		}
		h := core.NewLeaderboardHandle(uint64(id))
		cb(&h, nil)
	})
}

func (c *Client) boardMeta(ctx context.Context, id uint64) (boardMeta, error) {
	if m, ok := c.meta.Get(id); ok {
		return m, nil
	}
	field := strconv.FormatUint(id, 10) + ":"
	vals, err := c.rdb.HMGet(ctx, c.metaKey(), field+"name", field+"sort", field+"display").Result()
	if err != nil {
		return boardMeta{}, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	name, ok := vals[0].(string)
	if !ok {
		return boardMeta{}, core.ErrLeaderboardNotFound
	}
	sortRaw, _ := vals[1].(string)
	displayRaw, _ := vals[2].(string)
	sortCode, _ := strconv.Atoi(sortRaw)
	displayCode, _ := strconv.Atoi(displayRaw)
	m := boardMeta{
		name:    name,
		sort:    core.SortMethod(sortCode),
		display: core.DisplayType(displayCode),
	}
	c.meta.Add(id, m)
	return m, nil
}

// Lua script for atomic score submission honouring keep-best. Returns
// {changed, previous rank, new rank}; ranks are 1-based, 0 when absent.
var uploadScoreScript = redis.NewScript(`
	local scores, details = KEYS[1], KEYS[2]
	local member, score = ARGV[1], tonumber(ARGV[2])
	local force, asc = ARGV[3] == '1', ARGV[4] == '1'

	local function rank()
		local r
		if asc then
			r = redis.call('ZRANK', scores, member)
		else
			r = redis.call('ZREVRANK', scores, member)
		end
		if r then
			return r + 1
		end
		return 0
	end

	local prevRank = rank()
	local prev = redis.call('ZSCORE', scores, member)
	if prev then
		prev = tonumber(prev)
		if not force then
			local better
			if asc then better = score < prev else better = score > prev end
			if not better then
				return {0, prevRank, prevRank}
			end
		end
	end

	redis.call('ZADD', scores, score, member)
	redis.call('HSET', details, member, ARGV[5])
	local changed = 0
	if (not prev) or prev ~= score then
		changed = 1
	end
	return {changed, prevRank, rank()}
`)

func (c *Client) UploadLeaderboardScore(lb core.LeaderboardHandle, method core.UploadScoreMethod, score int32, details []int32, cb engine.UploadCallback) {
	if err := core.CheckDetails(details); err != nil {
		c.async(func(context.Context) { cb(nil, err) })
		return
	}
	details = slices.Clone(details)
	c.async(func(ctx context.Context) {
		res, err := c.upload(ctx, lb.Raw(), method, score, details)
		cb(res, err)
	})
}

func (c *Client) upload(ctx context.Context, id uint64, method core.UploadScoreMethod, score int32, details []int32) (*core.ScoreUploaded, error) {
	m, err := c.boardMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = []int32{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	out, err := uploadScoreScript.Run(ctx, c.rdb,
		[]string{c.boardKey(id, "scores"), c.boardKey(id, "details")},
		userMember(c.user), score, flag(method == core.UploadForceUpdate), flag(m.sort == core.SortAscending), string(encoded),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to upload score: %w", err)
	}
	if len(out) != 3 {
		return nil, errors.New("unexpected result from upload script")
	}
	return &core.ScoreUploaded{
		Score:              score,
		WasChanged:         out[0] == 1,
		GlobalRankPrevious: int32(out[1]),
		GlobalRankNew:      int32(out[2]),
	}, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (c *Client) DownloadLeaderboardEntries(lb core.LeaderboardHandle, request core.DataRequest, start, end int32, maxDetails int, cb engine.EntriesCallback) {
	c.async(func(ctx context.Context) {
		entries, err := c.download(ctx, lb.Raw(), request, int64(start), int64(end), maxDetails)
		cb(entries, err)
	})
}

func (c *Client) download(ctx context.Context, id uint64, request core.DataRequest, start, end int64, maxDetails int) ([]core.LeaderboardEntry, error) {
	m, err := c.boardMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	scoresKey := c.boardKey(id, "scores")
	asc := m.sort == core.SortAscending

	switch request {
	case core.RequestGlobalAroundUser:
		rank, ok, err := c.rank(ctx, scoresKey, asc, userMember(c.user))
		if err != nil {
			return nil, err
		}
		if !ok {
			return []core.LeaderboardEntry{}, nil
		}
		start, end = rank+start, rank+end
		fallthrough
	case core.RequestGlobal:
		start = max(start, 1)
		if end < start {
			return []core.LeaderboardEntry{}, nil
		}
		rng := redis.ZRangeArgs{Key: scoresKey, Start: start - 1, Stop: end - 1, Rev: !asc}
		zs, err := c.rdb.ZRangeArgsWithScores(ctx, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read leaderboard: %w", err)
		}
		entries := make([]core.LeaderboardEntry, len(zs))
		for i, z := range zs {
			user, _ := strconv.ParseUint(z.Member.(string), 10, 64)
			entries[i] = core.LeaderboardEntry{User: core.UserID(user), GlobalRank: int32(start) + int32(i), Score: int32(z.Score)}
		}
		return entries, c.attachDetails(ctx, id, entries, maxDetails)
	case core.RequestFriends:
		return c.downloadFriends(ctx, id, scoresKey, asc, maxDetails)
	}
	return []core.LeaderboardEntry{}, nil
}

func (c *Client) downloadFriends(ctx context.Context, id uint64, scoresKey string, asc bool, maxDetails int) ([]core.LeaderboardEntry, error) {
	friends, err := c.rdb.SMembers(ctx, c.friendsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read friends: %w", err)
	}
	members := append([]string{userMember(c.user)}, friends...)
	slices.Sort(members)
	members = slices.Compact(members)

	entries := []core.LeaderboardEntry{}
	for _, member := range members {
		rank, ok, err := c.rank(ctx, scoresKey, asc, member)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		score, err := c.rdb.ZScore(ctx, scoresKey, member).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read score: %w", err)
		}
		user, _ := strconv.ParseUint(member, 10, 64)
		entries = append(entries, core.LeaderboardEntry{User: core.UserID(user), GlobalRank: int32(rank), Score: int32(score)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].GlobalRank < entries[j].GlobalRank })
	return entries, c.attachDetails(ctx, id, entries, maxDetails)
}

func (c *Client) rank(ctx context.Context, scoresKey string, asc bool, member string) (int64, bool, error) {
	var cmd *redis.IntCmd
	if asc {
		cmd = c.rdb.ZRank(ctx, scoresKey, member)
	} else {
		cmd = c.rdb.ZRevRank(ctx, scoresKey, member)
	}
	r, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read rank: %w", err)
	}
	return r + 1, true, nil
}

func (c *Client) attachDetails(ctx context.Context, id uint64, entries []core.LeaderboardEntry, maxDetails int) error {
	if len(entries) == 0 {
		return nil
	}
	if maxDetails <= 0 {
		for i := range entries {
			entries[i].Details = []int32{}
		}
		return nil
	}
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = userMember(e.User)
	}
	raw, err := c.rdb.HMGet(ctx, c.boardKey(id, "details"), members...).Result()
	if err != nil {
		return fmt.Errorf("failed to read details: %w", err)
	}
	for i := range entries {
		var details []int32
		if s, ok := raw[i].(string); ok {
			if err := json.Unmarshal([]byte(s), &details); err != nil {
				c.log.Debug("corrupt leaderboard details", "leaderboard", id, "user", entries[i].User, "error", err)
				details = nil
			}
		}
		entries[i].Details = core.TruncateDetails(details, maxDetails)
	}
	return nil
}

func (c *Client) LeaderboardInfo(lb core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	ctx, cancel := c.opContext()
	defer cancel()
	m, err := c.boardMeta(ctx, lb.Raw())
	if err != nil {
		return core.LeaderboardInfo{}, err
	}
	n, err := c.rdb.ZCard(ctx, c.boardKey(lb.Raw(), "scores")).Result()
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to count entries: %w", err)
	}
	return core.LeaderboardInfo{Name: m.name, SortMethod: m.sort, DisplayType: m.display, EntryCount: int32(n)}, nil
}

// SeedScore places a score for any user on a named board, bypassing upload
// rules.
func (c *Client) SeedScore(name string, user core.UserID, score int32, details ...int32) error {
	ctx, cancel := c.opContext()
	defer cancel()
	id, err := c.rdb.HGet(ctx, c.idsKey(), name).Uint64()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", core.ErrLeaderboardNotFound, name)
	}
	if err != nil {
		return err
	}
	if details == nil {
		details = []int32{}
	}
	encoded, _ := json.Marshal(details)
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, c.boardKey(id, "scores"), redis.Z{Score: float64(score), Member: userMember(user)})
		p.HSet(ctx, c.boardKey(id, "details"), userMember(user), string(encoded))
		return nil
	})
	return err
}

var _ engine.NativeClient = (*Client)(nil)
var _ engine.UserStats = (*Client)(nil)
