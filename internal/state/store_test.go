package state

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func TestStoreReserveCopySemantics(t *testing.T) {
	s := NewStore()
	r := testReserve(t)
	s.PutReserve(r)

	pulled, ok := s.Reserve(0)
	if !ok {
		t.Fatal("reserve not found")
	}
	pulled.TotalSupplied = big.NewInt(999)

	again, _ := s.Reserve(0)
	if again.TotalSupplied.Sign() != 0 {
		t.Fatal("mutating a pulled reserve leaked into the store")
	}

	// The original handed to PutReserve is also decoupled.
	r.TotalSupplied = big.NewInt(123)
	again, _ = s.Reserve(0)
	if again.TotalSupplied.Sign() != 0 {
		t.Fatal("PutReserve kept a live reference")
	}
}

func TestStoreLookupByAsset(t *testing.T) {
	s := NewStore()
	s.PutReserve(testReserve(t))

	id, ok := s.ReserveIDByAsset("DOT")
	if !ok || id != 0 {
		t.Fatalf("ReserveIDByAsset = %d, %v", id, ok)
	}
	if _, ok := s.ReserveByAsset("BTC"); ok {
		t.Fatal("unknown asset resolved")
	}

	nextID, ok := s.NextReserveID()
	if !ok || nextID != 1 {
		t.Fatalf("NextReserveID = %d, %v", nextID, ok)
	}
}

func TestStoreConfigDefault(t *testing.T) {
	s := NewStore()
	user := uuid.New()

	cfg, found := s.Config(user)
	if found {
		t.Fatal("fresh user should not be found")
	}
	if cfg.MarketRuleID != DefaultMarketRuleID {
		t.Fatalf("default rule id = %d", cfg.MarketRuleID)
	}

	cfg.Deposits.Set(3)
	s.PutConfig(user, cfg)

	got, found := s.Config(user)
	if !found || !got.Deposits.Has(3) {
		t.Fatal("config not persisted")
	}
}

func TestStoreRules(t *testing.T) {
	s := NewStore()

	if _, ok := s.Rule(DefaultMarketRuleID); !ok {
		t.Fatal("default rule should exist")
	}

	id := s.AddRule(MarketRule{{CollateralCoefficient: coeff(700_000)}})
	if id != 1 {
		t.Fatalf("AddRule id = %d, want 1", id)
	}
	if s.RuleCount() != 2 {
		t.Fatalf("RuleCount = %d, want 2", s.RuleCount())
	}

	rule, ok := s.Rule(id)
	if !ok || *rule[0].CollateralCoefficient != 700_000 {
		t.Fatal("rule not stored")
	}
}

func TestStoreSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.PutReserve(testReserve(t))

	user := uuid.New()
	r, _ := s.Reserve(0)
	pos := NewUserReserveData(r)
	pos.Supplied = big.NewInt(1_000)
	s.PutPosition(0, user, pos)

	cfg, _ := s.Config(user)
	cfg.Deposits.Set(0)
	cfg.Collaterals.Set(0)
	s.PutConfig(user, cfg)
	s.AddRule(MarketRule{{CollateralCoefficient: coeff(700_000)}})

	snap := s.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}

	restored := NewStore()
	restored.Restore(&decoded)

	gotPos, ok := restored.Position(0, user)
	if !ok || gotPos.Supplied.Int64() != 1_000 {
		t.Fatalf("position lost in round trip: %+v", gotPos)
	}
	gotCfg, ok := restored.Config(user)
	if !ok || !gotCfg.Collaterals.Has(0) {
		t.Fatal("config lost in round trip")
	}
	if restored.RuleCount() != 2 || restored.ReserveCount() != 1 {
		t.Fatalf("counts after restore: rules=%d reserves=%d", restored.RuleCount(), restored.ReserveCount())
	}
	if _, ok := restored.ReserveIDByAsset("DOT"); !ok {
		t.Fatal("asset index not rebuilt")
	}
}

func TestStoreDeletePosition(t *testing.T) {
	s := NewStore()
	s.PutReserve(testReserve(t))
	user := uuid.New()

	r, _ := s.Reserve(0)
	s.PutPosition(0, user, NewUserReserveData(r))
	s.DeletePosition(0, user)

	if _, ok := s.Position(0, user); ok {
		t.Fatal("position should be gone")
	}
}
