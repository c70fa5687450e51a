package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"statsbridge/core"
	"statsbridge/engine"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver        `json:"driver"`
	DSN             string        `json:"dsn,omitempty"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	OpTimeout       time.Duration `json:"op_timeout"`
	// AutoMigrate creates missing tables on connect.
	AutoMigrate bool `json:"auto_migrate"`
}

// DefaultConfig returns sensible defaults for the given driver
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		OpTimeout:       5 * time.Second,
		AutoMigrate:     true,
	}
}

// Client is a native client backed by a SQL database. Ranks are computed
// with COUNT queries, ties broken by ascending user id.
type Client struct {
	db       *sqlx.DB
	driver   Driver
	timeout  time.Duration
	user     core.UserID
	friends  []core.UserID
	defaults map[string]int32
	log      *slog.Logger
	// friendsSaved is set once the session friends are in the friends table.
	friendsSaved atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures the session a Client serves.
type Option func(*Client)

func WithUser(id core.UserID) Option { return func(c *Client) { c.user = id } }

// WithLogger sets the logger used for rows the client skips over.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithStats defines the stats the session knows about, with their defaults.
func WithStats(defs map[string]int32) Option {
	return func(c *Client) { maps.Copy(c.defaults, defs) }
}

// WithFriends records friends of the session user on the first Friends
// download or on Migrate.
func WithFriends(ids ...core.UserID) Option {
	return func(c *Client) { c.friends = append(c.friends, ids...) }
}

// New opens the database and returns a native client for one session.
func New(config Config, opts ...Option) (*Client, error) {
	if config.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}
	db, err := sqlx.Open(string(config.Driver), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	c := NewWithDB(db, config.Driver, opts...)
	if config.OpTimeout > 0 {
		c.timeout = config.OpTimeout
	}
	if config.AutoMigrate {
		if err := c.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewWithDB creates a Client using an existing connection (useful for testing)
func NewWithDB(db *sqlx.DB, driver Driver, opts ...Option) *Client {
	c := &Client{
		db:       db,
		driver:   driver,
		timeout:  5 * time.Second,
		defaults: map[string]int32{},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var schema = map[Driver][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS stats (user_id BIGINT NOT NULL, name VARCHAR(128) NOT NULL, working INTEGER NOT NULL, stored INTEGER NOT NULL, PRIMARY KEY (user_id, name))`,
		`CREATE TABLE IF NOT EXISTS achievements (user_id BIGINT NOT NULL, name VARCHAR(128) NOT NULL, PRIMARY KEY (user_id, name))`,
		`CREATE TABLE IF NOT EXISTS friends (user_id BIGINT NOT NULL, friend_id BIGINT NOT NULL, PRIMARY KEY (user_id, friend_id))`,
		`CREATE TABLE IF NOT EXISTS leaderboards (id BIGSERIAL PRIMARY KEY, name VARCHAR(128) NOT NULL UNIQUE, sort_method INTEGER NOT NULL, display_type INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_scores (leaderboard_id BIGINT NOT NULL, user_id BIGINT NOT NULL, score INTEGER NOT NULL, details TEXT NOT NULL, PRIMARY KEY (leaderboard_id, user_id))`,
	},
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS stats (user_id BIGINT UNSIGNED NOT NULL, name VARCHAR(128) NOT NULL, working INT NOT NULL, stored INT NOT NULL, PRIMARY KEY (user_id, name))`,
		`CREATE TABLE IF NOT EXISTS achievements (user_id BIGINT UNSIGNED NOT NULL, name VARCHAR(128) NOT NULL, PRIMARY KEY (user_id, name))`,
		`CREATE TABLE IF NOT EXISTS friends (user_id BIGINT UNSIGNED NOT NULL, friend_id BIGINT UNSIGNED NOT NULL, PRIMARY KEY (user_id, friend_id))`,
		`CREATE TABLE IF NOT EXISTS leaderboards (id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY, name VARCHAR(128) NOT NULL UNIQUE, sort_method INT NOT NULL, display_type INT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS leaderboard_scores (leaderboard_id BIGINT UNSIGNED NOT NULL, user_id BIGINT UNSIGNED NOT NULL, score INT NOT NULL, details TEXT NOT NULL, PRIMARY KEY (leaderboard_id, user_id))`,
	},
}

// Migrate creates the tables the client needs and records session friends.
func (c *Client) Migrate(ctx context.Context) error {
	stmts, ok := schema[c.driver]
	if !ok {
		return fmt.Errorf("unsupported driver %q", c.driver)
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return c.saveFriends(ctx)
}

func (c *Client) saveFriends(ctx context.Context) error {
	if c.friendsSaved.Load() {
		return nil
	}
	for _, f := range c.friends {
		if _, err := c.db.ExecContext(ctx, c.db.Rebind(c.insertIgnore("friends (user_id, friend_id) VALUES (?, ?)", "user_id, friend_id")), uint64(c.user), uint64(f)); err != nil {
			return fmt.Errorf("failed to save friend: %w", err)
		}
	}
	c.friendsSaved.Store(true)
	return nil
}

// insertIgnore builds an insert that silently skips rows whose key exists.
func (c *Client) insertIgnore(body, conflict string) string {
	if c.driver == DriverMySQL {
		return "INSERT IGNORE INTO " + body
	}
	return "INSERT INTO " + body + " ON CONFLICT (" + conflict + ") DO NOTHING"
}

// Close waits for in-flight callbacks and closes the database.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
	return c.db.Close()
}

func (c *Client) UserStats() engine.UserStats { return c }

func (c *Client) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

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

func (c *Client) GetStatInt32(name string) (int32, error) {
	def, ok := c.defaults[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	ctx, cancel := c.opContext()
	defer cancel()
	var v int32
	err := c.db.GetContext(ctx, &v, c.db.Rebind(`SELECT working FROM stats WHERE user_id = ? AND name = ?`), uint64(c.user), name)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get stat: %w", err)
	}
	return v, nil
}

func (c *Client) SetStatInt32(name string, value int32) error {
	def, ok := c.defaults[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	ctx, cancel := c.opContext()
	defer cancel()
	q := `INSERT INTO stats (user_id, name, working, stored) VALUES (?, ?, ?, ?) ON CONFLICT (user_id, name) DO UPDATE SET working = EXCLUDED.working`
	if c.driver == DriverMySQL {
		q = `INSERT INTO stats (user_id, name, working, stored) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE working = VALUES(working)`
	}
	if _, err := c.db.ExecContext(ctx, c.db.Rebind(q), uint64(c.user), name, value, def); err != nil {
		return fmt.Errorf("failed to set stat: %w", err)
	}
	return nil
}

func (c *Client) StoreStats() error {
	ctx, cancel := c.opContext()
	defer cancel()
	if _, err := c.db.ExecContext(ctx, c.db.Rebind(`UPDATE stats SET stored = working WHERE user_id = ?`), uint64(c.user)); err != nil {
		return fmt.Errorf("failed to store stats: %w", err)
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
	var v int32
	err := c.db.GetContext(ctx, &v, c.db.Rebind(`SELECT stored FROM stats WHERE user_id = ? AND name = ?`), uint64(c.user), name)
	if err != nil {
		return def, errors.Is(err, sql.ErrNoRows)
	}
	return v, true
}

func (c *Client) ResetAllStats(achievementsToo bool) error {
	ctx, cancel := c.opContext()
	defer cancel()
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM stats WHERE user_id = ?`), uint64(c.user)); err != nil {
		return fmt.Errorf("failed to reset stats: %w", err)
	}
	if achievementsToo {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM achievements WHERE user_id = ?`), uint64(c.user)); err != nil {
			return fmt.Errorf("failed to reset achievements: %w", err)
		}
	}
	return tx.Commit()
}

// UnlockAchievement marks an achievement as unlocked for the session user.
func (c *Client) UnlockAchievement(name string) error {
	ctx, cancel := c.opContext()
	defer cancel()
	_, err := c.db.ExecContext(ctx, c.db.Rebind(c.insertIgnore("achievements (user_id, name) VALUES (?, ?)", "user_id, name")), uint64(c.user), name)
	return err
}

func (c *Client) FindLeaderboard(name string, cb engine.LeaderboardCallback) {
	c.async(func(ctx context.Context) {
		h, err := c.lookup(ctx, c.db, name)
		cb(h, err)
	})
}

func (c *Client) lookup(ctx context.Context, q sqlx.QueryerContext, name string) (*core.LeaderboardHandle, error) {
	var id uint64
	err := sqlx.GetContext(ctx, q, &id, c.db.Rebind(`SELECT id FROM leaderboards WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find leaderboard: %w", err)
	}
	h := core.NewLeaderboardHandle(id)
	return &h, nil
}

func (c *Client) FindOrCreateLeaderboard(name string, sortMethod core.SortMethod, display core.DisplayType, cb engine.LeaderboardCallback) {
	if err := core.ValidateLeaderboardName(name); err != nil {
		c.async(func(context.Context) { cb(nil, err) })
		return
	}
	c.async(func(ctx context.Context) {
		h, err := c.findOrCreate(ctx, name, sortMethod, display)
		cb(h, err)
	})
}

func (c *Client) findOrCreate(ctx context.Context, name string, sortMethod core.SortMethod, display core.DisplayType) (*core.LeaderboardHandle, error) {
	h, err := c.lookup(ctx, c.db, name)
	if err != nil || h != nil {
		return h, err
	}
	insert := c.insertIgnore("leaderboards (name, sort_method, display_type) VALUES (?, ?, ?)", "name")
	if _, err := c.db.ExecContext(ctx, c.db.Rebind(insert), name, int(sortMethod), int(display)); err != nil {
		return nil, fmt.Errorf("failed to create leaderboard: %w", err)
	}
	h, err = c.lookup(ctx, c.db, name)
	if err == nil && h == nil {
		err = core.ErrLeaderboardNotFound
	}
	return h, err
}

type boardRow struct {
	Name        string `db:"name"`
	SortMethod  int    `db:"sort_method"`
	DisplayType int    `db:"display_type"`
}

func (c *Client) board(ctx context.Context, q sqlx.QueryerContext, id uint64) (boardRow, error) {
	var b boardRow
	err := sqlx.GetContext(ctx, q, &b, c.db.Rebind(`SELECT name, sort_method, display_type FROM leaderboards WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, core.ErrLeaderboardNotFound
	}
	if err != nil {
		return b, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	return b, nil
}

// rankQuery counts the entries ahead of a (score, user) pair.
func (c *Client) rankQuery(sortMethod core.SortMethod) string {
	cmp := ">"
	if sortMethod == core.SortAscending {
		cmp = "<"
	}
	return c.db.Rebind(`SELECT COUNT(*) FROM leaderboard_scores WHERE leaderboard_id = ? AND (score ` + cmp + ` ? OR (score = ? AND user_id < ?))`)
}

func (c *Client) rankOf(ctx context.Context, q sqlx.QueryerContext, id uint64, sortMethod core.SortMethod, user core.UserID, score int32) (int32, error) {
	var ahead int32
	if err := sqlx.GetContext(ctx, q, &ahead, c.rankQuery(sortMethod), id, score, score, uint64(user)); err != nil {
		return 0, fmt.Errorf("failed to rank: %w", err)
	}
	return ahead + 1, nil
}

func orderBy(sortMethod core.SortMethod) string {
	if sortMethod == core.SortAscending {
		return "score ASC, user_id ASC"
	}
	return "score DESC, user_id ASC"
}

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
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback()

	b, err := c.board(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	sortMethod := core.SortMethod(b.SortMethod)
	res := &core.ScoreUploaded{Score: score}

	var prev int32
	err = tx.GetContext(ctx, &prev, tx.Rebind(`SELECT score FROM leaderboard_scores WHERE leaderboard_id = ? AND user_id = ?`), id, uint64(c.user))
	had := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read score: %w", err)
	}
	if had {
		if res.GlobalRankPrevious, err = c.rankOf(ctx, tx, id, sortMethod, c.user, prev); err != nil {
			return nil, err
		}
		if method == core.UploadKeepBest && !sortMethod.Better(score, prev) {
			res.GlobalRankNew = res.GlobalRankPrevious
			return res, tx.Commit()
		}
	}

	if details == nil {
		details = []int32{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	upsert := `INSERT INTO leaderboard_scores (leaderboard_id, user_id, score, details) VALUES (?, ?, ?, ?) ON CONFLICT (leaderboard_id, user_id) DO UPDATE SET score = EXCLUDED.score, details = EXCLUDED.details`
	if c.driver == DriverMySQL {
		upsert = `INSERT INTO leaderboard_scores (leaderboard_id, user_id, score, details) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE score = VALUES(score), details = VALUES(details)`
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsert), id, uint64(c.user), score, string(encoded)); err != nil {
		return nil, fmt.Errorf("failed to upload score: %w", err)
	}
	if res.GlobalRankNew, err = c.rankOf(ctx, tx, id, sortMethod, c.user, score); err != nil {
		return nil, err
	}
	res.WasChanged = !had || prev != score
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

type scoreRow struct {
	User    uint64 `db:"user_id"`
	Score   int32  `db:"score"`
	Details string `db:"details"`
}

func (c *Client) entry(r scoreRow, rank int32, maxDetails int) core.LeaderboardEntry {
	var details []int32
	if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
		c.log.Debug("corrupt leaderboard details", "user", r.User, "error", err)
		details = nil
	}
	return core.LeaderboardEntry{
		User:       core.UserID(r.User),
		GlobalRank: rank,
		Score:      r.Score,
		Details:    core.TruncateDetails(details, maxDetails),
	}
}

func (c *Client) DownloadLeaderboardEntries(lb core.LeaderboardHandle, request core.DataRequest, start, end int32, maxDetails int, cb engine.EntriesCallback) {
	c.async(func(ctx context.Context) {
		entries, err := c.download(ctx, lb.Raw(), request, start, end, maxDetails)
		cb(entries, err)
	})
}

func (c *Client) download(ctx context.Context, id uint64, request core.DataRequest, start, end int32, maxDetails int) ([]core.LeaderboardEntry, error) {
	b, err := c.board(ctx, c.db, id)
	if err != nil {
		return nil, err
	}
	sortMethod := core.SortMethod(b.SortMethod)

	switch request {
	case core.RequestGlobalAroundUser:
		var score int32
		err := c.db.GetContext(ctx, &score, c.db.Rebind(`SELECT score FROM leaderboard_scores WHERE leaderboard_id = ? AND user_id = ?`), id, uint64(c.user))
		if errors.Is(err, sql.ErrNoRows) {
			return []core.LeaderboardEntry{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read score: %w", err)
		}
		rank, err := c.rankOf(ctx, c.db, id, sortMethod, c.user, score)
		if err != nil {
			return nil, err
		}
		return c.downloadRange(ctx, id, sortMethod, int64(rank)+int64(start), int64(rank)+int64(end), maxDetails)
	case core.RequestGlobal:
		return c.downloadRange(ctx, id, sortMethod, int64(start), int64(end), maxDetails)
	case core.RequestFriends:
		if err := c.saveFriends(ctx); err != nil {
			return nil, err
		}
		var rows []scoreRow
		q := `SELECT user_id, score, details FROM leaderboard_scores WHERE leaderboard_id = ? AND (user_id = ? OR user_id IN (SELECT friend_id FROM friends WHERE user_id = ?)) ORDER BY ` + orderBy(sortMethod)
		if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(q), id, uint64(c.user), uint64(c.user)); err != nil {
			return nil, fmt.Errorf("failed to read friends: %w", err)
		}
		entries := make([]core.LeaderboardEntry, len(rows))
		for i, r := range rows {
			rank, err := c.rankOf(ctx, c.db, id, sortMethod, core.UserID(r.User), r.Score)
			if err != nil {
				return nil, err
			}
			entries[i] = c.entry(r, rank, maxDetails)
		}
		return entries, nil
	}
	return []core.LeaderboardEntry{}, nil
}

// downloadRange reads ranks lo..hi inclusive. Bounds are widened so that
// offsets around a rank cannot wrap, then clamped to valid ranks.
func (c *Client) downloadRange(ctx context.Context, id uint64, sortMethod core.SortMethod, lo, hi int64, maxDetails int) ([]core.LeaderboardEntry, error) {
	lo, hi = max(lo, 1), min(hi, math.MaxInt32)
	if hi < lo {
		return []core.LeaderboardEntry{}, nil
	}
	var rows []scoreRow
	q := `SELECT user_id, score, details FROM leaderboard_scores WHERE leaderboard_id = ? ORDER BY ` + orderBy(sortMethod) + ` LIMIT ? OFFSET ?`
	if err := c.db.SelectContext(ctx, &rows, c.db.Rebind(q), id, hi-lo+1, lo-1); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	entries := make([]core.LeaderboardEntry, len(rows))
	for i, r := range rows {
		entries[i] = c.entry(r, int32(lo)+int32(i), maxDetails)
	}
	return entries, nil
}

func (c *Client) LeaderboardInfo(lb core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	ctx, cancel := c.opContext()
	defer cancel()
	b, err := c.board(ctx, c.db, lb.Raw())
	if err != nil {
		return core.LeaderboardInfo{}, err
	}
	var n int32
	if err := c.db.GetContext(ctx, &n, c.db.Rebind(`SELECT COUNT(*) FROM leaderboard_scores WHERE leaderboard_id = ?`), lb.Raw()); err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to count entries: %w", err)
	}
	return core.LeaderboardInfo{
		Name:        b.Name,
		SortMethod:  core.SortMethod(b.SortMethod),
		DisplayType: core.DisplayType(b.DisplayType),
		EntryCount:  n,
	}, nil
}

var _ engine.NativeClient = (*Client)(nil)
var _ engine.UserStats = (*Client)(nil)
