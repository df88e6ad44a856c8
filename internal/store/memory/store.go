// Package memory provides an in-memory episode store for tests and
// single-process runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/toonfeed/crawler/internal/comic"
)

// Store keeps episodes in maps keyed by series and episode number.
type Store struct {
	mu     sync.RWMutex
	series map[string]map[int]comic.Episode
}

// New creates an empty Store.
func New() *Store {
	return &Store{series: make(map[string]map[int]comic.Episode)}
}

// MaxNumber returns the highest episode number stored for the series.
func (s *Store) MaxNumber(_ context.Context, seriesKey string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	episodes := s.series[seriesKey]
	if len(episodes) == 0 {
		return 0, false, nil
	}
	max := 0
	first := true
	for no := range episodes {
		if first || no > max {
			max = no
			first = false
		}
	}
	return max, true, nil
}

// Upsert writes episodes, overwriting any existing numbers.
func (s *Store) Upsert(_ context.Context, seriesKey string, episodes []comic.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byNumber := s.series[seriesKey]
	if byNumber == nil {
		byNumber = make(map[int]comic.Episode, len(episodes))
		s.series[seriesKey] = byNumber
	}
	for _, ep := range episodes {
		byNumber[ep.Number] = ep
	}
	return nil
}

// Page returns episodes ordered newest first.
func (s *Store) Page(_ context.Context, seriesKey string, offset, limit int) ([]comic.Episode, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("offset and limit must be non-negative")
	}
	s.mu.RLock()
	byNumber := s.series[seriesKey]
	all := make([]comic.Episode, 0, len(byNumber))
	for _, ep := range byNumber {
		all = append(all, ep)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].PublishedAt.Equal(all[j].PublishedAt) {
			return all[i].PublishedAt.After(all[j].PublishedAt)
		}
		return all[i].Number > all[j].Number
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// Len reports how many episodes are stored for the series.
func (s *Store) Len(seriesKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[seriesKey])
}
