// internal/state/store.go
package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PositionKey addresses one user's position in one reserve.
type PositionKey struct {
	ReserveID uint8
	User      uuid.UUID
}

// Store owns the whole ledger state: reserves, user positions, user
// configurations and market rules. Every read hands out a deep copy
// and every write stores a deep copy, so callers can mutate pulled
// records freely and push them back only when the operation succeeds.
// The store itself does no locking; callers serialize access.
type Store struct {
	reserves  map[uint8]*ReserveData
	idByAsset map[string]uint8
	positions map[PositionKey]*UserReserveData
	configs   map[uuid.UUID]*UserConfig
	rules     map[uint32]MarketRule
}

func NewStore() *Store {
	return &Store{
		reserves:  make(map[uint8]*ReserveData),
		idByAsset: make(map[string]uint8),
		positions: make(map[PositionKey]*UserReserveData),
		configs:   make(map[uuid.UUID]*UserConfig),
		// Rule 0 is the default rule; assets join it at registration.
		rules: map[uint32]MarketRule{DefaultMarketRuleID: {}},
	}
}

// NextReserveID returns the id the next registered reserve will get,
// or false when all slots are taken.
func (s *Store) NextReserveID() (uint8, bool) {
	if len(s.reserves) >= MaxReserves {
		return 0, false
	}
	return uint8(len(s.reserves)), true
}

func (s *Store) ReserveCount() int {
	return len(s.reserves)
}

func (s *Store) HasAsset(asset string) bool {
	_, ok := s.idByAsset[asset]
	return ok
}

func (s *Store) ReserveIDByAsset(asset string) (uint8, bool) {
	id, ok := s.idByAsset[asset]
	return id, ok
}

func (s *Store) Reserve(id uint8) (*ReserveData, bool) {
	r, ok := s.reserves[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) ReserveByAsset(asset string) (*ReserveData, bool) {
	id, ok := s.idByAsset[asset]
	if !ok {
		return nil, false
	}
	return s.Reserve(id)
}

func (s *Store) PutReserve(r *ReserveData) {
	s.reserves[r.ID] = r.Clone()
	s.idByAsset[r.Asset] = r.ID
}

// Assets returns registered asset symbols ordered by reserve id.
func (s *Store) Assets() []string {
	out := make([]string, len(s.reserves))
	for id, r := range s.reserves {
		out[id] = r.Asset
	}
	return out
}

// Position returns the stored position, or false when the user never
// touched the reserve.
func (s *Store) Position(id uint8, user uuid.UUID) (*UserReserveData, bool) {
	p, ok := s.positions[PositionKey{ReserveID: id, User: user}]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (s *Store) PutPosition(id uint8, user uuid.UUID, p *UserReserveData) {
	s.positions[PositionKey{ReserveID: id, User: user}] = p.Clone()
}

// DeletePosition drops a zeroed record.
func (s *Store) DeletePosition(id uint8, user uuid.UUID) {
	delete(s.positions, PositionKey{ReserveID: id, User: user})
}

// Config returns the user's configuration, or a fresh default when
// the user has none yet. The second return reports which it was.
func (s *Store) Config(user uuid.UUID) (*UserConfig, bool) {
	c, ok := s.configs[user]
	if !ok {
		return NewUserConfig(), false
	}
	return c.Clone(), true
}

func (s *Store) PutConfig(user uuid.UUID, c *UserConfig) {
	s.configs[user] = c.Clone()
}

// DeleteConfig drops a configuration record; used to roll back a
// lazily created config when its operation fails.
func (s *Store) DeleteConfig(user uuid.UUID) {
	delete(s.configs, user)
}

func (s *Store) Rule(id uint32) (MarketRule, bool) {
	r, ok := s.rules[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) PutRule(id uint32, rule MarketRule) {
	s.rules[id] = rule.Clone()
}

// AddRule stores a new rule under the next free id and returns it.
func (s *Store) AddRule(rule MarketRule) uint32 {
	id := uint32(len(s.rules))
	s.rules[id] = rule.Clone()
	return id
}

func (s *Store) RuleCount() int {
	return len(s.rules)
}

// PositionRecord and ConfigRecord are the keyed forms used in
// snapshots and persistence.
type PositionRecord struct {
	ReserveID uint8
	User      uuid.UUID
	Data      *UserReserveData
}

type ConfigRecord struct {
	User   uuid.UUID
	Config *UserConfig
}

type RuleRecord struct {
	ID   uint32
	Rule MarketRule
}

// Snapshot is a deep, deterministically ordered copy of the whole
// ledger, suitable for serialization.
type Snapshot struct {
	Reserves  []*ReserveData   `json:"reserves"`
	Positions []PositionRecord `json:"positions"`
	Configs   []ConfigRecord   `json:"configs"`
	Rules     []RuleRecord     `json:"rules"`
}

func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{}

	ids := make([]int, 0, len(s.reserves))
	for id := range s.reserves {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		snap.Reserves = append(snap.Reserves, s.reserves[uint8(id)].Clone())
	}

	for key, p := range s.positions {
		snap.Positions = append(snap.Positions, PositionRecord{ReserveID: key.ReserveID, User: key.User, Data: p.Clone()})
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		if snap.Positions[i].ReserveID != snap.Positions[j].ReserveID {
			return snap.Positions[i].ReserveID < snap.Positions[j].ReserveID
		}
		return bytes.Compare(snap.Positions[i].User[:], snap.Positions[j].User[:]) < 0
	})

	for user, c := range s.configs {
		snap.Configs = append(snap.Configs, ConfigRecord{User: user, Config: c.Clone()})
	}
	sort.Slice(snap.Configs, func(i, j int) bool {
		return bytes.Compare(snap.Configs[i].User[:], snap.Configs[j].User[:]) < 0
	})

	ruleIDs := make([]int, 0, len(s.rules))
	for id := range s.rules {
		ruleIDs = append(ruleIDs, int(id))
	}
	sort.Ints(ruleIDs)
	for _, id := range ruleIDs {
		snap.Rules = append(snap.Rules, RuleRecord{ID: uint32(id), Rule: s.rules[uint32(id)].Clone()})
	}

	return snap
}

// Restore replaces the store's contents with the snapshot's.
func (s *Store) Restore(snap *Snapshot) {
	s.reserves = make(map[uint8]*ReserveData, len(snap.Reserves))
	s.idByAsset = make(map[string]uint8, len(snap.Reserves))
	for _, r := range snap.Reserves {
		s.reserves[r.ID] = r.Clone()
		s.idByAsset[r.Asset] = r.ID
	}

	s.positions = make(map[PositionKey]*UserReserveData, len(snap.Positions))
	for _, p := range snap.Positions {
		s.positions[PositionKey{ReserveID: p.ReserveID, User: p.User}] = p.Data.Clone()
	}

	s.configs = make(map[uuid.UUID]*UserConfig, len(snap.Configs))
	for _, c := range snap.Configs {
		s.configs[c.User] = c.Config.Clone()
	}

	s.rules = make(map[uint32]MarketRule, len(snap.Rules))
	for _, r := range snap.Rules {
		s.rules[r.ID] = r.Rule.Clone()
	}
	if _, ok := s.rules[DefaultMarketRuleID]; !ok {
		s.rules[DefaultMarketRuleID] = MarketRule{}
	}
}
