package sqlx_test

import (
	"bytes"
	"database/sql"
	"log/slog"
	"math"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "statsbridge/adapters/sqlx"
	"statsbridge/core"
)

func newMockClient(t *testing.T, driver storage.Driver, opts ...storage.Option) (*storage.Client, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	base := []storage.Option{storage.WithUser(1), storage.WithStats(map[string]int32{"wins": 0, "kills": 3})}
	client := storage.NewWithDB(libsqlx.NewDb(db, string(driver)), driver, append(base, opts...)...)
	cleanup := func() {
		_ = db.Close()
	}
	return client, mock, cleanup
}

func await[T any](t *testing.T, start func(func(T, error))) (T, error) {
	t.Helper()
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	start(func(v T, err error) { ch <- result{v, err} })
	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	var zero T
	return zero, nil
}

func TestSQLMock_GetStat(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT working FROM stats`).
		WithArgs(int64(1), "wins").
		WillReturnRows(sqlmock.NewRows([]string{"working"}).AddRow(9))
	mock.ExpectQuery(`SELECT working FROM stats`).
		WithArgs(int64(1), "kills").
		WillReturnError(sql.ErrNoRows)

	v, err := client.GetStatInt32("wins")
	require.NoError(t, err)
	require.Equal(t, int32(9), v)

	v, err = client.GetStatInt32("kills")
	require.NoError(t, err)
	require.Equal(t, int32(3), v)

	_, err = client.GetStatInt32("missing")
	require.ErrorIs(t, err, core.ErrStatNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetStat_Postgres(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO stats .* ON CONFLICT \(user_id, name\) DO UPDATE`).
		WithArgs(int64(1), "wins", int64(5), int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.SetStatInt32("wins", 5))
	require.ErrorIs(t, client.SetStatInt32("missing", 5), core.ErrStatNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetStat_MySQL(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverMySQL)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO stats .* ON DUPLICATE KEY UPDATE`).
		WithArgs(int64(1), "kills", int64(4), int64(3)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.SetStatInt32("kills", 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_StoreAndReset(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectExec(`UPDATE stats SET stored = working`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM stats`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM achievements`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, client.StoreStats())
	require.NoError(t, client.ResetAllStats(true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_FindOrCreate_Insert(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT id FROM leaderboards`).
		WithArgs("weekly").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO leaderboards .* ON CONFLICT \(name\) DO NOTHING`).
		WithArgs("weekly", int64(core.SortDescending), int64(core.DisplayNumeric)).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(`SELECT id FROM leaderboards`).
		WithArgs("weekly").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	h, err := await(t, func(cb func(*core.LeaderboardHandle, error)) {
		client.FindOrCreateLeaderboard("weekly", core.SortDescending, core.DisplayNumeric, cb)
	})
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Equal(t, uint64(7), h.Raw())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_FindLeaderboard_Missing(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectQuery(`SELECT id FROM leaderboards`).
		WithArgs("weekly").
		WillReturnError(sql.ErrNoRows)

	h, err := await(t, func(cb func(*core.LeaderboardHandle, error)) {
		client.FindLeaderboard("weekly", cb)
	})
	require.NoError(t, err)
	require.Nil(t, h)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectBoard(mock sqlmock.Sqlmock, id int64, sort core.SortMethod) {
	mock.ExpectQuery(`SELECT name, sort_method, display_type FROM leaderboards`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"name", "sort_method", "display_type"}).AddRow("weekly", int(sort), 0))
}

func TestSQLMock_Upload_New(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectQuery(`SELECT score FROM leaderboard_scores`).
		WithArgs(int64(7), int64(1)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO leaderboard_scores .* ON CONFLICT`).
		WithArgs(int64(7), int64(1), int64(250), "[4,2]").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores WHERE leaderboard_id = \$1 AND \(score >`).
		WithArgs(int64(7), int64(250), int64(250), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	res, err := await(t, func(cb func(*core.ScoreUploaded, error)) {
		client.UploadLeaderboardScore(core.NewLeaderboardHandle(7), core.UploadKeepBest, 250, []int32{4, 2}, cb)
	})
	require.NoError(t, err)
	require.Equal(t, core.ScoreUploaded{Score: 250, WasChanged: true, GlobalRankNew: 2}, *res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Upload_KeepBestNotBetter(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	expectBoard(mock, 7, core.SortAscending)
	mock.ExpectQuery(`SELECT score FROM leaderboard_scores`).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(30))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores WHERE leaderboard_id = \$1 AND \(score <`).
		WithArgs(int64(7), int64(30), int64(30), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()

	res, err := await(t, func(cb func(*core.ScoreUploaded, error)) {
		client.UploadLeaderboardScore(core.NewLeaderboardHandle(7), core.UploadKeepBest, 45, nil, cb)
	})
	require.NoError(t, err)
	require.False(t, res.WasChanged)
	require.Equal(t, int32(1), res.GlobalRankPrevious)
	require.Equal(t, int32(1), res.GlobalRankNew)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Upload_UnknownBoard(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT name, sort_method, display_type FROM leaderboards`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := await(t, func(cb func(*core.ScoreUploaded, error)) {
		client.UploadLeaderboardScore(core.NewLeaderboardHandle(99), core.UploadForceUpdate, 1, nil, cb)
	})
	require.ErrorIs(t, err, core.ErrLeaderboardNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Download_Global(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectQuery(`SELECT user_id, score, details FROM leaderboard_scores .* ORDER BY score DESC, user_id ASC LIMIT`).
		WithArgs(int64(7), int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "details"}).
			AddRow(5, 400, "[1,2,3]").
			AddRow(9, 300, "[]"))

	entries, err := await(t, func(cb func([]core.LeaderboardEntry, error)) {
		client.DownloadLeaderboardEntries(core.NewLeaderboardHandle(7), core.RequestGlobal, 2, 3, 2, cb)
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, core.LeaderboardEntry{User: 5, GlobalRank: 2, Score: 400, Details: []int32{1, 2}}, entries[0])
	require.Equal(t, int32(3), entries[1].GlobalRank)
	require.Equal(t, []int32{}, entries[1].Details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Download_Friends(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres, storage.WithFriends(4))
	defer cleanup()

	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectExec(`INSERT INTO friends .* ON CONFLICT \(user_id, friend_id\) DO NOTHING`).
		WithArgs(int64(1), int64(4)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT user_id, score, details FROM leaderboard_scores .* SELECT friend_id FROM friends`).
		WithArgs(int64(7), int64(1), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "details"}).
			AddRow(4, 90, "[]").
			AddRow(1, 80, "[6]"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores`).
		WithArgs(int64(7), int64(90), int64(90), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores`).
		WithArgs(int64(7), int64(80), int64(80), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	entries, err := await(t, func(cb func([]core.LeaderboardEntry, error)) {
		client.DownloadLeaderboardEntries(core.NewLeaderboardHandle(7), core.RequestFriends, 0, 0, 8, cb)
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int32(4), entries[0].GlobalRank)
	require.Equal(t, core.UserID(1), entries[1].User)
	require.Equal(t, int32(6), entries[1].GlobalRank)
	require.Equal(t, []int32{6}, entries[1].Details)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Download_AroundUserWithoutEntry(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectQuery(`SELECT score FROM leaderboard_scores`).
		WithArgs(int64(7), int64(1)).
		WillReturnError(sql.ErrNoRows)

	entries, err := await(t, func(cb func([]core.LeaderboardEntry, error)) {
		client.DownloadLeaderboardEntries(core.NewLeaderboardHandle(7), core.RequestGlobalAroundUser, -2, 2, 0, cb)
	})
	require.NoError(t, err)
	require.NotNil(t, entries)
	require.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Download_AroundUserFullRange(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectQuery(`SELECT score FROM leaderboard_scores`).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(250))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores WHERE leaderboard_id = \$1 AND`).
		WithArgs(int64(7), int64(250), int64(250), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`SELECT user_id, score, details FROM leaderboard_scores .* LIMIT`).
		WithArgs(int64(7), int64(math.MaxInt32-4), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "details"}).
			AddRow(1, 250, "[]").
			AddRow(3, 200, "[]"))

	entries, err := await(t, func(cb func([]core.LeaderboardEntry, error)) {
		client.DownloadLeaderboardEntries(core.NewLeaderboardHandle(7), core.RequestGlobalAroundUser, 0, math.MaxInt32, 0, cb)
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, core.UserID(1), entries[0].User)
	require.Equal(t, int32(5), entries[0].GlobalRank)
	require.Equal(t, int32(6), entries[1].GlobalRank)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Download_CorruptDetails(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres, storage.WithLogger(logger))
	defer cleanup()

	expectBoard(mock, 7, core.SortDescending)
	mock.ExpectQuery(`SELECT user_id, score, details FROM leaderboard_scores .* LIMIT`).
		WithArgs(int64(7), int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "score", "details"}).AddRow(5, 400, "{not json"))

	entries, err := await(t, func(cb func([]core.LeaderboardEntry, error)) {
		client.DownloadLeaderboardEntries(core.NewLeaderboardHandle(7), core.RequestGlobal, 1, 1, 8, cb)
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []int32{}, entries[0].Details)
	require.Contains(t, buf.String(), "corrupt leaderboard details")
	require.Contains(t, buf.String(), "user=5")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_LeaderboardInfo(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverPostgres)
	defer cleanup()

	expectBoard(mock, 7, core.SortAscending)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM leaderboard_scores WHERE leaderboard_id = \$1$`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	info, err := client.LeaderboardInfo(core.NewLeaderboardHandle(7))
	require.NoError(t, err)
	require.Equal(t, core.LeaderboardInfo{Name: "weekly", SortMethod: core.SortAscending, DisplayType: core.DisplayNumeric, EntryCount: 12}, info)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_Migrate_MySQL(t *testing.T) {
	client, mock, cleanup := newMockClient(t, storage.DriverMySQL, storage.WithFriends(2))
	defer cleanup()

	for i := 0; i < 5; i++ {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`INSERT IGNORE INTO friends`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, client.Migrate(t.Context()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_RequiresDSN(t *testing.T) {
	_, err := storage.New(storage.DefaultConfig(storage.DriverPostgres))
	require.Error(t, err)
}
