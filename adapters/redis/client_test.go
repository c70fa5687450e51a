package redis

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsbridge/core"
)

// newTestClient spins up a miniredis server and returns a native client on it.
func newTestClient(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	base := []Option{WithUser(1), WithStats(map[string]int32{"wins": 0, "kills": 3})}
	c, err := NewWithClient(rdb, DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func wait[T any](t *testing.T, start func(func(T, error))) T {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) { ch <- result{v, err} })
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.v
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	var zero T
	return zero
}

func createBoard(t *testing.T, c *Client, name string, sort core.SortMethod) core.LeaderboardHandle {
	t.Helper()
	h := wait(t, func(cb func(*core.LeaderboardHandle, error)) {
		c.FindOrCreateLeaderboard(name, sort, core.DisplayNumeric, cb)
	})
	require.NotNil(t, h)
	return *h
}

func uploadScore(t *testing.T, c *Client, lb core.LeaderboardHandle, method core.UploadScoreMethod, score int32, details ...int32) *core.ScoreUploaded {
	t.Helper()
	return wait(t, func(cb func(*core.ScoreUploaded, error)) {
		c.UploadLeaderboardScore(lb, method, score, details, cb)
	})
}

func TestClient_Stats(t *testing.T) {
	c, _ := newTestClient(t)

	v, err := c.GetStatInt32("kills")
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)

	require.NoError(t, c.SetStatInt32("wins", 11))
	v, err = c.GetStatInt32("wins")
	require.NoError(t, err)
	assert.Equal(t, int32(11), v)

	stored, ok := c.StoredStat("wins")
	assert.True(t, ok)
	assert.Equal(t, int32(0), stored)

	require.NoError(t, c.StoreStats())
	stored, _ = c.StoredStat("wins")
	assert.Equal(t, int32(11), stored)

	_, err = c.GetStatInt32("missing")
	assert.ErrorIs(t, err, core.ErrStatNotFound)
	assert.ErrorIs(t, c.SetStatInt32("missing", 1), core.ErrStatNotFound)
}

func TestClient_ResetAllStats(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.SetStatInt32("wins", 5))
	require.NoError(t, c.StoreStats())
	require.NoError(t, c.UnlockAchievement("first_blood"))

	require.NoError(t, c.ResetAllStats(false))
	v, _ := c.GetStatInt32("wins")
	assert.Equal(t, int32(0), v)
	assert.True(t, c.Achieved("first_blood"))

	require.NoError(t, c.ResetAllStats(true))
	assert.False(t, c.Achieved("first_blood"))
}

func TestClient_FindOrCreate(t *testing.T) {
	c, _ := newTestClient(t)

	missing := wait(t, func(cb func(*core.LeaderboardHandle, error)) { c.FindLeaderboard("weekly", cb) })
	assert.Nil(t, missing)

	a := createBoard(t, c, "weekly", core.SortAscending)
	b := createBoard(t, c, "weekly", core.SortDescending)
	assert.Equal(t, a, b)

	found := wait(t, func(cb func(*core.LeaderboardHandle, error)) { c.FindLeaderboard("weekly", cb) })
	require.NotNil(t, found)
	assert.Equal(t, a, *found)

	info, err := c.LeaderboardInfo(a)
	require.NoError(t, err)
	assert.Equal(t, "weekly", info.Name)
	assert.Equal(t, core.SortAscending, info.SortMethod)
	assert.Equal(t, int32(0), info.EntryCount)

	other := createBoard(t, c, "monthly", core.SortDescending)
	assert.NotEqual(t, a.Raw(), other.Raw())

	_, err = c.LeaderboardInfo(core.NewLeaderboardHandle(404))
	assert.ErrorIs(t, err, core.ErrLeaderboardNotFound)
}

func TestClient_UploadKeepBest(t *testing.T) {
	c, _ := newTestClient(t)
	lb := createBoard(t, c, "weekly", core.SortDescending)
	require.NoError(t, c.SeedScore("weekly", 2, 100))
	require.NoError(t, c.SeedScore("weekly", 3, 50))

	res := uploadScore(t, c, lb, core.UploadKeepBest, 75, 4, 5)
	assert.True(t, res.WasChanged)
	assert.Equal(t, int32(0), res.GlobalRankPrevious)
	assert.Equal(t, int32(2), res.GlobalRankNew)

	res = uploadScore(t, c, lb, core.UploadKeepBest, 60)
	assert.False(t, res.WasChanged)
	assert.Equal(t, int32(2), res.GlobalRankNew)

	res = uploadScore(t, c, lb, core.UploadForceUpdate, 10)
	assert.True(t, res.WasChanged)
	assert.Equal(t, int32(2), res.GlobalRankPrevious)
	assert.Equal(t, int32(3), res.GlobalRankNew)
}

func TestClient_UploadAscending(t *testing.T) {
	c, _ := newTestClient(t)
	lb := createBoard(t, c, "speedrun", core.SortAscending)
	uploadScore(t, c, lb, core.UploadKeepBest, 90)
	assert.True(t, uploadScore(t, c, lb, core.UploadKeepBest, 80).WasChanged)
	assert.False(t, uploadScore(t, c, lb, core.UploadKeepBest, 85).WasChanged)
}

func TestClient_UploadTooManyDetails(t *testing.T) {
	c, _ := newTestClient(t)
	lb := createBoard(t, c, "weekly", core.SortDescending)
	errs := make(chan error, 1)
	c.UploadLeaderboardScore(lb, core.UploadKeepBest, 1, make([]int32, core.MaxLeaderboardDetails+1), func(_ *core.ScoreUploaded, err error) {
		errs <- err
	})
	assert.ErrorIs(t, <-errs, core.ErrDetailsTooLong)
}

func TestClient_Download(t *testing.T) {
	c, _ := newTestClient(t, WithFriends(4))
	lb := createBoard(t, c, "weekly", core.SortDescending)
	for user, score := range map[core.UserID]int32{2: 500, 3: 400, 4: 300, 5: 200} {
		require.NoError(t, c.SeedScore("weekly", user, score, 7, 8, 9))
	}
	uploadScore(t, c, lb, core.UploadKeepBest, 350, 1, 1)

	download := func(req core.DataRequest, start, end int32, maxDetails int) []core.LeaderboardEntry {
		return wait(t, func(cb func([]core.LeaderboardEntry, error)) {
			c.DownloadLeaderboardEntries(lb, req, start, end, maxDetails, cb)
		})
	}

	global := download(core.RequestGlobal, 1, 2, 1)
	require.Len(t, global, 2)
	assert.Equal(t, core.UserID(2), global[0].User)
	assert.Equal(t, int32(500), global[0].Score)
	assert.Equal(t, int32(2), global[1].GlobalRank)
	assert.Equal(t, []int32{7}, global[0].Details)

	around := download(core.RequestGlobalAroundUser, -1, 1, 0)
	require.Len(t, around, 3)
	assert.Equal(t, core.UserID(3), around[0].User)
	assert.Equal(t, core.UserID(1), around[1].User)
	assert.Equal(t, int32(3), around[1].GlobalRank)
	assert.Empty(t, around[1].Details)

	friends := download(core.RequestFriends, 0, 0, 64)
	require.Len(t, friends, 2)
	assert.Equal(t, core.UserID(1), friends[0].User)
	assert.Equal(t, []int32{1, 1}, friends[0].Details)
	assert.Equal(t, core.UserID(4), friends[1].User)
	assert.Equal(t, int32(4), friends[1].GlobalRank)

	empty := download(core.RequestGlobal, 50, 60, 0)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestClient_MetaCache(t *testing.T) {
	c, mr := newTestClient(t)
	lb := createBoard(t, c, "weekly", core.SortAscending)
	_, err := c.LeaderboardInfo(lb)
	require.NoError(t, err)

	mr.Del(c.metaKey())
	info, err := c.LeaderboardInfo(lb)
	require.NoError(t, err, "description served from cache")
	assert.Equal(t, "weekly", info.Name)
}

func TestClient_BoardMetaInDeclaredKey(t *testing.T) {
	c, mr := newTestClient(t)
	lb := createBoard(t, c, "weekly", core.SortAscending)

	field := strconv.FormatUint(lb.Raw(), 10)
	assert.Equal(t, "weekly", mr.HGet(c.metaKey(), field+":name"))
	assert.Equal(t, strconv.Itoa(int(core.SortAscending)), mr.HGet(c.metaKey(), field+":sort"))
	for _, k := range mr.Keys() {
		assert.Contains(t, []string{c.idsKey(), c.seqKey(), c.metaKey()}, k)
	}
}

func TestClient_FriendsStoredUnderFinalUser(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := NewWithClient(rdb, DefaultConfig(), WithFriends(4), WithUser(9))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ok, err := mr.SIsMember(c.friendsKey(), "4")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "statsbridge:user:9:friends", c.friendsKey())
	assert.False(t, mr.Exists("statsbridge:user:0:friends"))
}

func TestClient_CorruptDetailsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, mr := newTestClient(t, WithLogger(logger))
	lb := createBoard(t, c, "weekly", core.SortDescending)
	require.NoError(t, c.SeedScore("weekly", 2, 100, 1))
	mr.HSet(c.boardKey(lb.Raw(), "details"), "2", "{not json")

	entries := wait(t, func(cb func([]core.LeaderboardEntry, error)) {
		c.DownloadLeaderboardEntries(lb, core.RequestGlobal, 1, 1, 8, cb)
	})
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Details)
	assert.Contains(t, buf.String(), "corrupt leaderboard details")
	assert.Contains(t, buf.String(), "user=2")
}

func TestClient_CloseDropsCalls(t *testing.T) {
	c, _ := newTestClient(t)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	fired := make(chan struct{}, 1)
	c.FindLeaderboard("weekly", func(*core.LeaderboardHandle, error) { fired <- struct{}{} })
	select {
	case <-fired:
		t.Fatal("callback fired after close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_ConnectionFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Addr = mr.Addr()
	c, err := New(cfg, WithUser(7))
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.rdb.Ping(context.Background()).Err())
}
