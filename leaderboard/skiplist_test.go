package leaderboard

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statsbridge/core"
)

func TestSkipListBasic(t *testing.T) {
	s := NewSkipList(core.SortDescending)
	s.Update(1, 10, nil)
	s.Update(2, 20, nil)
	s.Update(3, 15, nil)
	top := s.TopN(3)
	if len(top) != 3 || top[0].User != 2 || top[1].User != 3 || top[2].User != 1 {
		t.Fatalf("unexpected order: %#v", top)
	}
	s.Update(1, 25, nil)
	top = s.TopN(1)
	if top[0].User != 1 {
		t.Fatalf("top should be 1, got %#v", top)
	}
	if s.Len() != 3 {
		t.Fatalf("len should stay 3, got %d", s.Len())
	}
}

func TestSkipListAscendingAndTies(t *testing.T) {
	s := NewSkipList(core.SortAscending)
	s.Update(5, 30, nil)
	s.Update(4, 30, nil)
	s.Update(9, 10, nil)

	users := []core.UserID{}
	for _, e := range s.Entries() {
		users = append(users, e.User)
	}
	assert.Equal(t, []core.UserID{9, 4, 5}, users)

	rank, ok := s.Rank(5)
	require.True(t, ok)
	assert.Equal(t, 3, rank)
}

func TestSkipListRankAndRangeMatchSortedOrder(t *testing.T) {
	s := NewSkipList(core.SortDescending)
	rng := rand.New(rand.NewPCG(1, 2))
	scores := map[core.UserID]int32{}
	for i := 0; i < 500; i++ {
		u := core.UserID(rng.IntN(200) + 1)
		sc := int32(rng.IntN(1000))
		scores[u] = sc
		s.Update(u, sc, []int32{sc})
		if i%7 == 0 {
			victim := core.UserID(rng.IntN(200) + 1)
			s.Remove(victim)
			delete(scores, victim)
		}
	}

	type pair struct {
		u core.UserID
		s int32
	}
	want := make([]pair, 0, len(scores))
	for u, sc := range scores {
		want = append(want, pair{u, sc})
	}
	sort.Slice(want, func(i, j int) bool {
		if want[i].s == want[j].s {
			return want[i].u < want[j].u
		}
		return want[i].s > want[j].s
	})

	require.Equal(t, len(want), s.Len())
	for i, p := range want {
		rank, ok := s.Rank(p.u)
		require.True(t, ok)
		require.Equal(t, i+1, rank, "user %d", p.u)
	}

	got := s.Range(10, 19)
	require.Len(t, got, 10)
	for i, e := range got {
		assert.Equal(t, want[9+i].u, e.User)
		assert.Equal(t, []int32{want[9+i].s}, e.Details)
	}
}

func TestSkipListRangeClamps(t *testing.T) {
	s := NewSkipList(core.SortDescending)
	for i := 1; i <= 5; i++ {
		s.Update(core.UserID(i), int32(i), nil)
	}
	assert.Len(t, s.Range(-3, 2), 2)
	assert.Len(t, s.Range(4, 100), 2)
	assert.Nil(t, s.Range(6, 10))
	assert.Nil(t, s.Range(3, 2))
	assert.Nil(t, s.TopN(0))
}

func TestSkipListGetReturnsCopies(t *testing.T) {
	s := NewSkipList(core.SortDescending)
	details := []int32{1, 2}
	s.Update(1, 5, details)
	details[0] = 99

	e, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, []int32{1, 2}, e.Details)
	e.Details[1] = 42

	e2, _ := s.Get(1)
	assert.Equal(t, []int32{1, 2}, e2.Details)

	_, ok = s.Get(2)
	assert.False(t, ok)
	_, ok = s.Rank(2)
	assert.False(t, ok)
}
