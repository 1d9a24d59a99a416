package economy

import "testing"

func TestSpendIsAtomic(t *testing.T) {
	ledger := NewLedger(Config{StartingGold: 50, SupplyCap: 4})
	ledger.AddPlayer("p1")

	if ledger.Spend("p1", 100, 1) {
		t.Fatalf("expected spend above available gold to fail")
	}
	if ledger.Gold("p1") != 50 {
		t.Fatalf("expected gold unchanged, got %d", ledger.Gold("p1"))
	}
	if ledger.Spend("p1", 10, 5) {
		t.Fatalf("expected spend above supply cap to fail")
	}
	if !ledger.Spend("p1", 40, 3) {
		t.Fatalf("expected affordable spend to succeed")
	}
	stats := ledger.Stats("p1")
	if stats.Gold != 10 || stats.SupplyUsed != 3 || stats.Spent != 40 {
		t.Fatalf("unexpected stats after spend: %+v", stats)
	}

	ledger.Refund("p1", 40, 3)
	if stats := ledger.Stats("p1"); stats.Gold != 50 || stats.SupplyUsed != 0 || stats.Spent != 0 {
		t.Fatalf("expected refund to restore the account, got %+v", stats)
	}
}

func TestGoldScheduleRepeatsLastEntry(t *testing.T) {
	cfg := Config{GoldPerRound: []int{10, 20}}
	if cfg.GoldForRound(1) != 10 || cfg.GoldForRound(2) != 20 || cfg.GoldForRound(7) != 20 {
		t.Fatalf("unexpected schedule values")
	}
	if cfg.GoldForRound(0) != 0 {
		t.Fatalf("expected no income before round 1")
	}
}

func TestGrantRoundPaysEveryPlayer(t *testing.T) {
	ledger := NewLedger(Config{StartingGold: 0, GoldPerRound: []int{30}})
	ledger.AddPlayer("b")
	ledger.AddPlayer("a")
	ledger.GrantRound(1)

	all := ledger.AllStats()
	if len(all) != 2 || all[0].PlayerID != "a" {
		t.Fatalf("expected sorted stats, got %+v", all)
	}
	for _, stats := range all {
		if stats.Gold != 30 || stats.Earned != 30 {
			t.Fatalf("expected income for %s, got %+v", stats.PlayerID, stats)
		}
	}
}
