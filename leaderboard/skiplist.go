package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"sync"

	"statsbridge/core"
)

// A skip list keyed by (score in sort order, user asc) with per-level spans so
// rank lookups stay O(log n).

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

type SkipList struct {
	mu     sync.RWMutex
	sort   core.SortMethod
	head   *node
	lvl    int
	length int
	byUser map[core.UserID]*node
	rng    *rand.Rand
}

func NewSkipList(sort core.SortMethod) *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		sort:   sort,
		head:   &node{},
		lvl:    1,
		byUser: map[core.UserID]*node{},
		rng:    rand.New(rand.NewPCG(seed1, seed2)),
	}
}

// SortMethod returns the ordering the list was built with.
func (s *SkipList) SortMethod() core.SortMethod { return s.sort }

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func (s *SkipList) less(a, b Entry) bool {
	if a.Score == b.Score {
		return a.User < b.User
	}
	return s.sort.Better(a.Score, b.Score)
}

// Update inserts or moves user to a new score. Details are copied.
func (s *SkipList) Update(user core.UserID, score int32, details []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[user]; ok {
		s.removeLocked(old.e)
	}
	e := Entry{User: user, Score: score, Details: slices.Clone(details)}

	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.length++
	s.byUser[user] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.User != e.User {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	delete(s.byUser, e.User)
	s.length--
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(user core.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byUser[user]; ok {
		s.removeLocked(n.e)
	}
}

func (s *SkipList) Get(user core.UserID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byUser[user]; ok {
		return cloneEntry(n.e), true
	}
	return Entry{}, false
}

// Rank returns the 1-based position of user.
func (s *SkipList) Rank(user core.UserID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byUser[user]
	if !ok {
		return 0, false
	}
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && (s.less(cur.next[i].e, n.e) || cur.next[i] == n) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur == n {
			return rank, true
		}
	}
	return rank, cur == n
}

// Range returns entries with ranks in [startRank, endRank], clamped to the
// list bounds.
func (s *SkipList) Range(startRank, endRank int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if startRank < 1 {
		startRank = 1
	}
	if endRank > s.length {
		endRank = s.length
	}
	if startRank > endRank {
		return nil
	}
	// walk to the node just before startRank
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] < startRank {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
	}
	out := make([]Entry, 0, endRank-startRank+1)
	for cur = cur.next[0]; cur != nil && len(out) < endRank-startRank+1; cur = cur.next[0] {
		out = append(out, cloneEntry(cur.e))
	}
	return out
}

func (s *SkipList) TopN(n int) []Entry {
	if n <= 0 {
		return nil
	}
	return s.Range(1, n)
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// Entries returns every entry in rank order.
func (s *SkipList) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, s.length)
	for cur := s.head.next[0]; cur != nil; cur = cur.next[0] {
		out = append(out, cloneEntry(cur.e))
	}
	return out
}

func cloneEntry(e Entry) Entry {
	e.Details = slices.Clone(e.Details)
	return e
}

var _ Board = (*SkipList)(nil)
