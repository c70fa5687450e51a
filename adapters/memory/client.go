package memory

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"statsbridge/core"
	"statsbridge/engine"
	"statsbridge/leaderboard"
)

// Client is an in-process native client. Stats live in memory, leaderboards
// in skip lists; callbacks run on a pump goroutine unless WithSyncCallbacks
// is set.
type Client struct {
	mu           sync.Mutex
	user         core.UserID
	friends      map[core.UserID]struct{}
	defaults     map[string]int32
	working      map[string]int32
	stored       map[string]int32
	achievements map[string]bool
	boards       map[string]*board
	byID         map[uint64]*board
	nextID       uint64
	persister    Persister

	sync      bool
	pump      chan func()
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type board struct {
	id      uint64
	name    string
	display core.DisplayType
	list    *leaderboard.SkipList
}

// Option configures a Client.
type Option func(*Client)

// WithUser sets the local user the session belongs to.
func WithUser(id core.UserID) Option { return func(c *Client) { c.user = id } }

// WithFriends sets the local user's friend list.
func WithFriends(ids ...core.UserID) Option {
	return func(c *Client) {
		for _, id := range ids {
			c.friends[id] = struct{}{}
		}
	}
}

// WithStats defines the stats the session knows about, with their defaults.
// Reading or writing any other name fails.
func WithStats(defs map[string]int32) Option {
	return func(c *Client) { maps.Copy(c.defaults, defs) }
}

// WithAchievements marks achievements as unlocked.
func WithAchievements(names ...string) Option {
	return func(c *Client) {
		for _, n := range names {
			c.achievements[n] = true
		}
	}
}

// WithSyncCallbacks runs callbacks inline, before the native call returns.
func WithSyncCallbacks() Option { return func(c *Client) { c.sync = true } }

// WithPersister saves a snapshot after every durable change, and restores the
// last one on construction.
func WithPersister(p Persister) Option { return func(c *Client) { c.persister = p } }

func New(opts ...Option) (*Client, error) {
	c := &Client{
		friends:      map[core.UserID]struct{}{},
		defaults:     map[string]int32{},
		achievements: map[string]bool{},
		boards:       map[string]*board{},
		byID:         map[uint64]*board{},
		nextID:       1,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.working = maps.Clone(c.defaults)
	c.stored = maps.Clone(c.defaults)
	if c.persister != nil {
		snap, found, err := c.persister.Load()
		if err != nil {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if found {
			c.restore(snap)
		}
	}
	if !c.sync {
		c.pump = make(chan func(), 256)
		c.wg.Add(1)
		go c.run()
	}
	return c, nil
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case fn := <-c.pump:
			fn()
		case <-c.done:
			return
		}
	}
}

// Close stops the callback pump. Callbacks not yet delivered never fire.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
	return nil
}

func (c *Client) dispatch(fn func()) {
	if c.sync {
		fn()
		return
	}
	select {
	case c.pump <- fn:
	case <-c.done:
	}
}

func (c *Client) UserStats() engine.UserStats { return c }

func (c *Client) GetStatInt32(name string) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.working[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	return v, nil
}

func (c *Client) SetStatInt32(name string, value int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.working[name]; !ok {
		return fmt.Errorf("%w: %s", core.ErrStatNotFound, name)
	}
	c.working[name] = value
	return nil
}

func (c *Client) StoreStats() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored = maps.Clone(c.working)
	return c.persistLocked()
}

// ResetAllStats restores every stat to its default and stores the result.
func (c *Client) ResetAllStats(achievementsToo bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.working = maps.Clone(c.defaults)
	c.stored = maps.Clone(c.defaults)
	if achievementsToo {
		clear(c.achievements)
	}
	return c.persistLocked()
}

// StoredStat returns the last stored value of a stat.
func (c *Client) StoredStat(name string) (int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stored[name]
	return v, ok
}

// Achieved reports whether an achievement is unlocked.
func (c *Client) Achieved(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.achievements[name]
}

func (c *Client) FindLeaderboard(name string, cb engine.LeaderboardCallback) {
	c.mu.Lock()
	b, ok := c.boards[name]
	c.mu.Unlock()
	c.dispatch(func() {
		if !ok {
			cb(nil, nil)
			return
		}
		h := core.NewLeaderboardHandle(b.id)
		cb(&h, nil)
	})
}

func (c *Client) FindOrCreateLeaderboard(name string, sortMethod core.SortMethod, display core.DisplayType, cb engine.LeaderboardCallback) {
	if err := core.ValidateLeaderboardName(name); err != nil {
		c.dispatch(func() { cb(nil, err) })
		return
	}
	c.mu.Lock()
	b, ok := c.boards[name]
	var err error
	if !ok {
		b = c.addBoardLocked(c.nextID, name, sortMethod, display)
		err = c.persistLocked()
	}
	c.mu.Unlock()
	if err != nil {
		c.dispatch(func() { cb(nil, err) })
		return
	}
	h := core.NewLeaderboardHandle(b.id)
	c.dispatch(func() { cb(&h, nil) })
}

func (c *Client) addBoardLocked(id uint64, name string, sortMethod core.SortMethod, display core.DisplayType) *board {
	b := &board{id: id, name: name, display: display, list: leaderboard.NewSkipList(sortMethod)}
	c.boards[name] = b
	c.byID[id] = b
	if id >= c.nextID {
		c.nextID = id + 1
	}
	return b
}

func (c *Client) UploadLeaderboardScore(lb core.LeaderboardHandle, method core.UploadScoreMethod, score int32, details []int32, cb engine.UploadCallback) {
	res, err := c.upload(lb, method, score, details)
	c.dispatch(func() { cb(res, err) })
}

func (c *Client) upload(lb core.LeaderboardHandle, method core.UploadScoreMethod, score int32, details []int32) (*core.ScoreUploaded, error) {
	if err := core.CheckDetails(details); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[lb.Raw()]
	if !ok {
		return nil, core.ErrLeaderboardNotFound
	}
	res := &core.ScoreUploaded{Score: score}
	prev, had := b.list.Get(c.user)
	if had {
		rank, _ := b.list.Rank(c.user)
		res.GlobalRankPrevious = int32(rank)
	}
	if had && method == core.UploadKeepBest && !b.list.SortMethod().Better(score, prev.Score) {
		res.GlobalRankNew = res.GlobalRankPrevious
		return res, nil
	}
	b.list.Update(c.user, score, details)
	rank, _ := b.list.Rank(c.user)
	res.GlobalRankNew = int32(rank)
	res.WasChanged = !had || prev.Score != score
	if err := c.persistLocked(); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) DownloadLeaderboardEntries(lb core.LeaderboardHandle, request core.DataRequest, start, end int32, maxDetails int, cb engine.EntriesCallback) {
	entries, err := c.download(lb, request, int(start), int(end), maxDetails)
	c.dispatch(func() { cb(entries, err) })
}

func (c *Client) download(lb core.LeaderboardHandle, request core.DataRequest, start, end, maxDetails int) ([]core.LeaderboardEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[lb.Raw()]
	if !ok {
		return nil, core.ErrLeaderboardNotFound
	}
	out := []core.LeaderboardEntry{}
	switch request {
	case core.RequestGlobal:
		from := max(start, 1)
		for i, e := range b.list.Range(from, end) {
			out = append(out, toEntry(e, from+i, maxDetails))
		}
	case core.RequestGlobalAroundUser:
		rank, ok := b.list.Rank(c.user)
		if !ok {
			return out, nil
		}
		from := max(rank+start, 1)
		for i, e := range b.list.Range(from, rank+end) {
			out = append(out, toEntry(e, from+i, maxDetails))
		}
	case core.RequestFriends:
		for _, id := range c.circleLocked() {
			e, ok := b.list.Get(id)
			if !ok {
				continue
			}
			rank, _ := b.list.Rank(id)
			out = append(out, toEntry(e, rank, maxDetails))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].GlobalRank < out[j].GlobalRank })
	}
	return out, nil
}

func (c *Client) circleLocked() []core.UserID {
	ids := make([]core.UserID, 0, len(c.friends)+1)
	ids = append(ids, c.user)
	for id := range c.friends {
		if id != c.user {
			ids = append(ids, id)
		}
	}
	return ids
}

func toEntry(e leaderboard.Entry, rank, maxDetails int) core.LeaderboardEntry {
	return core.LeaderboardEntry{
		User:       e.User,
		GlobalRank: int32(rank),
		Score:      e.Score,
		Details:    core.TruncateDetails(e.Details, maxDetails),
	}
}

func (c *Client) LeaderboardInfo(lb core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.byID[lb.Raw()]
	if !ok {
		return core.LeaderboardInfo{}, core.ErrLeaderboardNotFound
	}
	return core.LeaderboardInfo{
		Name:        b.name,
		SortMethod:  b.list.SortMethod(),
		DisplayType: b.display,
		EntryCount:  int32(b.list.Len()),
	}, nil
}

// SeedScore places a score for any user, bypassing upload rules. Used to
// populate boards for development and tests.
func (c *Client) SeedScore(name string, user core.UserID, score int32, details ...int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrLeaderboardNotFound, name)
	}
	b.list.Update(user, score, details)
	return nil
}

// Snapshot captures the durable state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Snapshot {
	snap := Snapshot{
		Stats:        maps.Clone(c.stored),
		Achievements: maps.Clone(c.achievements),
	}
	for _, b := range c.boards {
		bs := BoardSnapshot{ID: b.id, Name: b.name, SortMethod: b.list.SortMethod(), DisplayType: b.display}
		for _, e := range b.list.Entries() {
			bs.Entries = append(bs.Entries, EntrySnapshot{User: e.User, Score: e.Score, Details: e.Details})
		}
		snap.Leaderboards = append(snap.Leaderboards, bs)
	}
	sort.Slice(snap.Leaderboards, func(i, j int) bool { return snap.Leaderboards[i].ID < snap.Leaderboards[j].ID })
	return snap
}

func (c *Client) restore(snap Snapshot) {
	for name, v := range snap.Stats {
		// stats no longer defined are dropped
		if _, ok := c.defaults[name]; ok {
			c.working[name] = v
			c.stored[name] = v
		}
	}
	maps.Copy(c.achievements, snap.Achievements)
	for _, bs := range snap.Leaderboards {
		b := c.addBoardLocked(bs.ID, bs.Name, bs.SortMethod, bs.DisplayType)
		for _, e := range bs.Entries {
			b.list.Update(e.User, e.Score, e.Details)
		}
	}
}

func (c *Client) persistLocked() error {
	if c.persister == nil {
		return nil
	}
	if err := c.persister.Save(c.snapshotLocked()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

var _ engine.NativeClient = (*Client)(nil)
var _ engine.UserStats = (*Client)(nil)
