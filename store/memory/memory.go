// Package memory provides in-process implementations of the splitpay stores.
// Data is lost on restart; intended for tests and single-node demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/x402-foundation/splitpay"
)

// Store implements splitpay.ConfigStore, splitpay.RecordStore and
// splitpay.UsageStore. Values are copied in and out so callers can never
// mutate stored state.
type Store struct {
	mu        sync.RWMutex
	splitters map[string]splitpay.SplitterConfig
	records   map[string]splitpay.PaymentRecord
	usage     []splitpay.UsageEvent
}

// New creates an empty store.
func New() *Store {
	return &Store{
		splitters: make(map[string]splitpay.SplitterConfig),
		records:   make(map[string]splitpay.PaymentRecord),
	}
}

// Get implements splitpay.ConfigStore.
func (s *Store) Get(_ context.Context, id string) (*splitpay.SplitterConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.splitters[id]
	if !ok {
		return nil, splitpay.ErrNotFound
	}
	return &cfg, nil
}

// Put implements splitpay.ConfigStore.
func (s *Store) Put(_ context.Context, cfg *splitpay.SplitterConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.splitters[cfg.ID] = *cfg
	return nil
}

// Exists implements splitpay.ConfigStore.
func (s *Store) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.splitters[id]
	return ok, nil
}

// ListByAuthority implements splitpay.ConfigStore. Newest first.
func (s *Store) ListByAuthority(_ context.Context, authority string) ([]*splitpay.SplitterConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*splitpay.SplitterConfig{}
	for _, cfg := range s.splitters {
		if cfg.Authority == authority {
			c := cfg
			out = append(out, &c)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// List implements splitpay.ConfigStore. Newest first.
func (s *Store) List(_ context.Context) ([]*splitpay.SplitterConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*splitpay.SplitterConfig, 0, len(s.splitters))
	for _, cfg := range s.splitters {
		c := cfg
		out = append(out, &c)
	}
	sortNewestFirst(out)
	return out, nil
}

// GetByProof implements splitpay.RecordStore.
func (s *Store) GetByProof(_ context.Context, proofID string) (*splitpay.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[proofID]
	if !ok {
		return nil, splitpay.ErrNotFound
	}
	return &rec, nil
}

// InsertIfAbsent implements splitpay.RecordStore.
func (s *Store) InsertIfAbsent(_ context.Context, rec *splitpay.PaymentRecord) (*splitpay.PaymentRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ProofID]; ok {
		return &existing, false, nil
	}
	s.records[rec.ProofID] = *rec
	stored := *rec
	return &stored, true, nil
}

// ListBySplitter implements splitpay.RecordStore. Newest first.
func (s *Store) ListBySplitter(_ context.Context, splitterID string) ([]*splitpay.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*splitpay.PaymentRecord{}
	for _, rec := range s.records {
		if rec.SplitterID == splitterID {
			r := rec
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Stats implements splitpay.RecordStore.
func (s *Store) Stats(_ context.Context) (splitpay.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := splitpay.Stats{
		TotalSplitters: int64(len(s.splitters)),
		TotalPayments:  int64(len(s.records)),
		TotalUsage:     int64(len(s.usage)),
	}
	for _, rec := range s.records {
		if rec.Status == splitpay.StatusConfirmed {
			st.ConfirmedVolume += rec.TotalAmount
		}
	}
	return st, nil
}

// RecordUsage implements splitpay.UsageStore.
func (s *Store) RecordUsage(_ context.Context, ev *splitpay.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = append(s.usage, *ev)
	return nil
}

// Usage returns a copy of all recorded usage events.
func (s *Store) Usage() []splitpay.UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]splitpay.UsageEvent(nil), s.usage...)
}

func sortNewestFirst(cfgs []*splitpay.SplitterConfig) {
	sort.Slice(cfgs, func(i, j int) bool {
		if cfgs[i].CreatedAt.Equal(cfgs[j].CreatedAt) {
			return cfgs[i].ID < cfgs[j].ID
		}
		return cfgs[i].CreatedAt.After(cfgs[j].CreatedAt)
	})
}
