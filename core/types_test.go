package core

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortMethodFromCode(t *testing.T) {
	assert.Equal(t, SortAscending, SortMethodFromCode(0))
	assert.Equal(t, SortDescending, SortMethodFromCode(1))
	for _, code := range []int32{-1, 2, 7, math.MaxInt32, math.MinInt32} {
		assert.Equal(t, SortDescending, SortMethodFromCode(code), "code %d", code)
	}
}

func TestDisplayTypeFromCode(t *testing.T) {
	assert.Equal(t, DisplayNumeric, DisplayTypeFromCode(0))
	assert.Equal(t, DisplayTimeSeconds, DisplayTypeFromCode(1))
	assert.Equal(t, DisplayTimeMilliSeconds, DisplayTypeFromCode(2))
	for _, code := range []int32{-1, 3, 100, math.MaxInt32} {
		assert.Equal(t, DisplayNumeric, DisplayTypeFromCode(code), "code %d", code)
	}
}

func TestDataRequestFromCode(t *testing.T) {
	assert.Equal(t, RequestGlobal, DataRequestFromCode(0))
	assert.Equal(t, RequestGlobalAroundUser, DataRequestFromCode(1))
	assert.Equal(t, RequestFriends, DataRequestFromCode(2))
	for _, code := range []int32{-5, 3, math.MinInt32} {
		assert.Equal(t, RequestGlobal, DataRequestFromCode(code), "code %d", code)
	}
}

func TestUploadScoreMethodFromCode(t *testing.T) {
	assert.Equal(t, UploadKeepBest, UploadScoreMethodFromCode(0))
	assert.Equal(t, UploadForceUpdate, UploadScoreMethodFromCode(1))
	for _, code := range []int32{-1, 2, 99} {
		assert.Equal(t, UploadKeepBest, UploadScoreMethodFromCode(code), "code %d", code)
	}
}

func TestSortMethodBetter(t *testing.T) {
	assert.True(t, SortAscending.Better(1, 2))
	assert.False(t, SortAscending.Better(2, 2))
	assert.True(t, SortDescending.Better(3, 2))
	assert.False(t, SortDescending.Better(1, 2))
}

func TestParseLeaderboardToken(t *testing.T) {
	tok, err := ParseLeaderboardToken("18446744073709551615")
	require.NoError(t, err)
	assert.Equal(t, LeaderboardToken(math.MaxUint64), tok)
	assert.Equal(t, "18446744073709551615", tok.String())

	for _, in := range []string{"", "not-a-number", "-1", "1.5", "18446744073709551616"} {
		_, err := ParseLeaderboardToken(in)
		assert.True(t, errors.Is(err, ErrMalformedToken), "input %q", in)
	}
}

func TestLeaderboardTokenJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Token LeaderboardToken `json:"token"`
	}{Token: 9007199254740993})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"9007199254740993"}`, string(b))

	var out struct {
		Token LeaderboardToken `json:"token"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, LeaderboardToken(9007199254740993), out.Token)
}

func TestTruncateDetails(t *testing.T) {
	assert.Equal(t, []int32{}, TruncateDetails([]int32{1, 2, 3}, 0))
	assert.Equal(t, []int32{}, TruncateDetails(nil, 5))
	assert.Equal(t, []int32{1, 2}, TruncateDetails([]int32{1, 2, 3}, 2))
	assert.Equal(t, []int32{1, 2, 3}, TruncateDetails([]int32{1, 2, 3}, 10))
	assert.Equal(t, []int32{}, TruncateDetails([]int32{1}, -3))

	src := []int32{4, 5}
	out := TruncateDetails(src, 2)
	out[0] = 99
	assert.Equal(t, int32(4), src[0])
}

func TestValidateLeaderboardName(t *testing.T) {
	assert.NoError(t, ValidateLeaderboardName("weekly"))
	assert.Error(t, ValidateLeaderboardName("  "))
	assert.Error(t, ValidateLeaderboardName(strings.Repeat("x", MaxLeaderboardNameLength+1)))
}

func TestStatSetEventKeepsZeroValue(t *testing.T) {
	b, err := json.Marshal(NewStatSet("wins", 0))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"value":0`)

	var out Event
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, EventStatSet, out.Type)
	assert.Equal(t, int32(0), out.Value)
}
