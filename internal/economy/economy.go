package economy

import (
	"sort"
	"sync"
)

const (
	DefaultStartingGold = 200
	DefaultSupplyCap    = 12
)

// DefaultGoldPerRound is the income schedule by round. Rounds past the end
// of the schedule repeat the last value.
var DefaultGoldPerRound = []int{100, 125, 150, 175, 200}

// Config describes starting resources and the round income schedule.
type Config struct {
	StartingGold int   `json:"startingGold" mapstructure:"startingGold"`
	SupplyCap    int   `json:"supplyCap" mapstructure:"supplyCap"`
	GoldPerRound []int `json:"goldPerRound" mapstructure:"goldPerRound"`
}

func (cfg Config) normalized() Config {
	normalized := cfg
	if normalized.StartingGold < 0 {
		normalized.StartingGold = 0
	}
	if normalized.SupplyCap <= 0 {
		normalized.SupplyCap = DefaultSupplyCap
	}
	if len(normalized.GoldPerRound) == 0 {
		normalized.GoldPerRound = append([]int(nil), DefaultGoldPerRound...)
	}
	return normalized
}

// DefaultConfig returns the standard match economy.
func DefaultConfig() Config {
	return Config{
		StartingGold: DefaultStartingGold,
		SupplyCap:    DefaultSupplyCap,
		GoldPerRound: append([]int(nil), DefaultGoldPerRound...),
	}
}

// GoldForRound returns the scheduled income for a 1-based round.
func (cfg Config) GoldForRound(round int) int {
	schedule := cfg.normalized().GoldPerRound
	if round < 1 {
		return 0
	}
	if round > len(schedule) {
		return schedule[len(schedule)-1]
	}
	return schedule[round-1]
}

// PlayerStats is the per-player economic summary sent at round end.
type PlayerStats struct {
	PlayerID   string `json:"playerId"`
	Gold       int    `json:"gold"`
	SupplyUsed int    `json:"supplyUsed"`
	SupplyCap  int    `json:"supplyCap"`
	Spent      int    `json:"spent"`
	Earned     int    `json:"earned"`
}

type account struct {
	gold       int
	supplyUsed int
	supplyCap  int
	spent      int
	earned     int
}

// Ledger tracks gold and supply for every player of a match.
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	accounts map[string]*account
}

// NewLedger constructs an empty ledger.
func NewLedger(cfg Config) *Ledger {
	return &Ledger{cfg: cfg.normalized(), accounts: make(map[string]*account)}
}

// Config returns the normalized configuration.
func (l *Ledger) Config() Config {
	if l == nil {
		return DefaultConfig()
	}
	return l.cfg
}

// AddPlayer opens an account with the starting gold. Existing accounts are
// left untouched.
func (l *Ledger) AddPlayer(playerID string) {
	if l == nil || playerID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[playerID]; ok {
		return
	}
	l.accounts[playerID] = &account{gold: l.cfg.StartingGold, supplyCap: l.cfg.SupplyCap}
}

// Players lists every account in sorted order.
func (l *Ledger) Players() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Gold reports the player's available gold.
func (l *Ledger) Gold(playerID string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[playerID]; ok {
		return acc.gold
	}
	return 0
}

// HasSupply reports whether the player can field additional supply.
func (l *Ledger) HasSupply(playerID string, supply int) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[playerID]
	if !ok {
		return false
	}
	return acc.supplyUsed+supply <= acc.supplyCap
}

// Spend deducts cost and claims supply. It fails without side effects when
// either is insufficient.
func (l *Ledger) Spend(playerID string, cost, supply int) bool {
	if l == nil || cost < 0 || supply < 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[playerID]
	if !ok || acc.gold < cost || acc.supplyUsed+supply > acc.supplyCap {
		return false
	}
	acc.gold -= cost
	acc.spent += cost
	acc.supplyUsed += supply
	return true
}

// Refund reverses a Spend.
func (l *Ledger) Refund(playerID string, cost, supply int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[playerID]
	if !ok {
		return
	}
	acc.gold += cost
	acc.spent -= cost
	acc.supplyUsed = max(0, acc.supplyUsed-supply)
}

// ReleaseSupply frees supply held by squads that no longer exist.
func (l *Ledger) ReleaseSupply(playerID string, supply int) {
	if l == nil || supply <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[playerID]; ok {
		acc.supplyUsed = max(0, acc.supplyUsed-supply)
	}
}

// Grant adds income to the player.
func (l *Ledger) Grant(playerID string, amount int) {
	if l == nil || amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok := l.accounts[playerID]; ok {
		acc.gold += amount
		acc.earned += amount
	}
}

// GrantRound pays every player the scheduled income for round.
func (l *Ledger) GrantRound(round int) {
	if l == nil {
		return
	}
	amount := l.cfg.GoldForRound(round)
	for _, id := range l.Players() {
		l.Grant(id, amount)
	}
}

// Stats returns the player's summary.
func (l *Ledger) Stats(playerID string) PlayerStats {
	if l == nil {
		return PlayerStats{PlayerID: playerID}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[playerID]
	if !ok {
		return PlayerStats{PlayerID: playerID}
	}
	return PlayerStats{
		PlayerID:   playerID,
		Gold:       acc.gold,
		SupplyUsed: acc.supplyUsed,
		SupplyCap:  acc.supplyCap,
		Spent:      acc.spent,
		Earned:     acc.earned,
	}
}

// AllStats returns every player's summary in player order.
func (l *Ledger) AllStats() []PlayerStats {
	ids := l.Players()
	stats := make([]PlayerStats, 0, len(ids))
	for _, id := range ids {
		stats = append(stats, l.Stats(id))
	}
	return stats
}
