package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/apperrors"
)

type Plan string

const (
	FreeTrial  Plan = "free_trial"
	Basico     Plan = "basico"
	Pro        Plan = "pro"
	Enterprise Plan = "enterprise"
)

type Duration string

const (
	Monthly    Duration = "monthly"
	Semiannual Duration = "semiannual"
	Yearly     Duration = "yearly"
)

// Currency is fixed for every tenant.
const Currency = "COP"

// Unlimited marks a limit with no upper bound.
const Unlimited = -1

type Limits struct {
	MaxVehicles  int `json:"max_vehicles"`
	MaxDrivers   int `json:"max_drivers"`
	HistoryDays  int `json:"history_days"`
	MaxRangeDays int `json:"max_range_days"`
}

type PlanConfig struct {
	Plan         Plan   `json:"plan"`
	Name         string `json:"name"`
	MonthlyPrice int64  `json:"monthly_price"`
	Weight       int    `json:"weight"`
	Limits       Limits `json:"limits"`
}

type durationPolicy struct {
	multiplier int64
	months     int
}

// Semiannual and yearly bake in one and two free months respectively.
var durations = map[Duration]durationPolicy{
	Monthly:    {multiplier: 1, months: 1},
	Semiannual: {multiplier: 5, months: 6},
	Yearly:     {multiplier: 10, months: 12},
}

func defaultPlans() []PlanConfig {
	return []PlanConfig{
		{
			Plan: FreeTrial, Name: "Prueba gratuita", MonthlyPrice: 0, Weight: 0,
			Limits: Limits{MaxVehicles: 1, MaxDrivers: 1, HistoryDays: 30, MaxRangeDays: Unlimited},
		},
		{
			Plan: Basico, Name: "Básico", MonthlyPrice: 59900, Weight: 1,
			Limits: Limits{MaxVehicles: 3, MaxDrivers: 5, HistoryDays: 30, MaxRangeDays: Unlimited},
		},
		{
			Plan: Pro, Name: "Pro", MonthlyPrice: 99900, Weight: 2,
			Limits: Limits{MaxVehicles: 6, MaxDrivers: 10, HistoryDays: Unlimited, MaxRangeDays: 90},
		},
		{
			Plan: Enterprise, Name: "Enterprise", MonthlyPrice: 199900, Weight: 3,
			Limits: Limits{MaxVehicles: Unlimited, MaxDrivers: Unlimited, HistoryDays: Unlimited, MaxRangeDays: Unlimited},
		},
	}
}

// Catalog is built once at start and never mutated afterwards.
type Catalog struct {
	plans map[Plan]PlanConfig
}

func NewCatalog(configs ...PlanConfig) *Catalog {
	c := &Catalog{plans: make(map[Plan]PlanConfig, 4)}
	for _, cfg := range defaultPlans() {
		c.plans[cfg.Plan] = cfg
	}
	for _, cfg := range configs {
		c.plans[cfg.Plan] = cfg
	}
	return c
}

// LoadFromFile overlays the plans found in path on top of the defaults. Fields
// an entry leaves out keep their default value.
func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var file struct {
		Plans []json.RawMessage `json:"plans"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	base := NewCatalog()
	overrides := make([]PlanConfig, 0, len(file.Plans))
	for _, raw := range file.Plans {
		var head struct {
			Plan Plan `json:"plan"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("failed to parse plans config: %w", err)
		}
		cfg, ok := base.Lookup(head.Plan)
		if !ok {
			return nil, fmt.Errorf("unknown plan %q in plans config", head.Plan)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse plan %q: %w", head.Plan, err)
		}
		if cfg.MonthlyPrice < 0 {
			return nil, fmt.Errorf("plan %q has a negative price", cfg.Plan)
		}
		overrides = append(overrides, cfg)
	}

	c := NewCatalog(overrides...)
	if err := c.checkOrdering(); err != nil {
		return nil, err
	}
	return c, nil
}

// tierOrder is the required weight order, lowest first.
var tierOrder = []Plan{FreeTrial, Basico, Pro, Enterprise}

func (c *Catalog) checkOrdering() error {
	for i := 1; i < len(tierOrder); i++ {
		lower, higher := tierOrder[i-1], tierOrder[i]
		if c.Weight(lower) >= c.Weight(higher) {
			return fmt.Errorf("plan %q must weigh more than %q (got %d, %d)",
				higher, lower, c.Weight(higher), c.Weight(lower))
		}
	}
	return nil
}

func isKnown(p Plan) bool {
	switch p {
	case FreeTrial, Basico, Pro, Enterprise:
		return true
	}
	return false
}

func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !isKnown(p) {
		return "", apperrors.ErrInvalidPlan.WithMessage("invalid plan: " + s)
	}
	return p, nil
}

// ParsePurchasablePlan rejects the trial tier, which is never sold.
func ParsePurchasablePlan(s string) (Plan, error) {
	p, err := ParsePlan(s)
	if err != nil {
		return "", err
	}
	if p == FreeTrial {
		return "", apperrors.ErrInvalidPlan.WithMessage("the trial plan cannot be purchased")
	}
	return p, nil
}

func ParseDuration(s string) (Duration, error) {
	d := Duration(s)
	if _, ok := durations[d]; !ok {
		return "", apperrors.ErrInvalidDuration.WithMessage("invalid duration: " + s)
	}
	return d, nil
}

func (c *Catalog) Lookup(p Plan) (PlanConfig, bool) {
	cfg, ok := c.plans[p]
	return cfg, ok
}

// Weight orders plans for upgrade/downgrade checks. Unknown plans weigh -1.
func (c *Catalog) Weight(p Plan) int {
	cfg, ok := c.plans[p]
	if !ok {
		return -1
	}
	return cfg.Weight
}

func (c *Catalog) IsUpgrade(from, to Plan) bool {
	return c.Weight(to) > c.Weight(from)
}

// Price is the amount charged for plan over duration, in pesos.
func (c *Catalog) Price(p Plan, d Duration) (int64, error) {
	cfg, ok := c.plans[p]
	if !ok {
		return 0, apperrors.ErrInvalidPlan
	}
	policy, ok := durations[d]
	if !ok {
		return 0, apperrors.ErrInvalidDuration
	}
	return cfg.MonthlyPrice * policy.multiplier, nil
}

func (c *Catalog) Limits(p Plan) Limits {
	cfg, ok := c.plans[p]
	if !ok {
		return Limits{}
	}
	return cfg.Limits
}

func (c *Catalog) All() []PlanConfig {
	out := make([]PlanConfig, 0, len(c.plans))
	for _, p := range []Plan{FreeTrial, Basico, Pro, Enterprise} {
		if cfg, ok := c.plans[p]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// Months is the access granted by a purchase of duration d.
func Months(d Duration) int {
	return durations[d].months
}

func (l Limits) AllowsVehicles(current int) bool {
	return l.MaxVehicles == Unlimited || current < l.MaxVehicles
}

func (l Limits) AllowsDrivers(current int) bool {
	return l.MaxDrivers == Unlimited || current < l.MaxDrivers
}

// ClampRange narrows [from, to] to the history window and per-query range the plan allows.
func (l Limits) ClampRange(from, to, now time.Time) (time.Time, time.Time) {
	if to.After(now) {
		to = now
	}
	if l.HistoryDays != Unlimited {
		earliest := now.AddDate(0, 0, -l.HistoryDays)
		if from.Before(earliest) {
			from = earliest
		}
	}
	if l.MaxRangeDays != Unlimited {
		earliest := to.AddDate(0, 0, -l.MaxRangeDays)
		if from.Before(earliest) {
			from = earliest
		}
	}
	if from.After(to) {
		from = to
	}
	return from, to
}
