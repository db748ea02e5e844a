package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier describes one subscription tier's allowances.
type Tier struct {
	Name            string `yaml:"name"`
	MonthlyCredits  int    `yaml:"monthly_credits"`
	MaxDurationMins int    `yaml:"max_duration_minutes"`
	StorageLimitMB  int64  `yaml:"storage_limit_mb"`
}

// Pricing holds the published credit pricing knobs.
type Pricing struct {
	// CreditsPerMinute is charged for every started minute of media.
	CreditsPerMinute float64 `yaml:"credits_per_minute"`

	// FrameAnalysisPerMinute is the surcharge per started minute when
	// frame analysis is enabled.
	FrameAnalysisPerMinute float64 `yaml:"frame_analysis_per_minute"`
}

// TierTable is the ordered tier list (cheapest first) plus pricing.
type TierTable struct {
	Tiers   []Tier  `yaml:"tiers"`
	Pricing Pricing `yaml:"pricing"`
}

// DefaultTierTable returns the built-in tiers and pricing.
func DefaultTierTable() TierTable {
	return TierTable{
		Tiers: []Tier{
			{Name: "free", MonthlyCredits: 50, MaxDurationMins: 60, StorageLimitMB: 2048},
			{Name: "pro", MonthlyCredits: 500, MaxDurationMins: 240, StorageLimitMB: 10240},
			{Name: "studio", MonthlyCredits: 2000, MaxDurationMins: 600, StorageLimitMB: 51200},
		},
		Pricing: Pricing{
			CreditsPerMinute:       1.0,
			FrameAnalysisPerMinute: 0.5,
		},
	}
}

// LoadTierTable returns the built-in table, or the contents of the given
// YAML file when path is non-empty.
func LoadTierTable(path string) (TierTable, error) {
	if path == "" {
		return DefaultTierTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return TierTable{}, fmt.Errorf("reading tiers file: %w", err)
	}
	var table TierTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return TierTable{}, fmt.Errorf("parsing tiers file: %w", err)
	}
	if table.Pricing.CreditsPerMinute == 0 {
		table.Pricing = DefaultTierTable().Pricing
	}
	return table, nil
}

// Find returns the tier with the given name.
func (t TierTable) Find(name string) (Tier, bool) {
	for _, tier := range t.Tiers {
		if tier.Name == name {
			return tier, true
		}
	}
	return Tier{}, false
}

// Default returns the cheapest tier, used for lazily created subscriptions.
func (t TierTable) Default() Tier {
	return t.Tiers[0]
}

// TierForDuration returns the cheapest tier permitting the given duration,
// or false when no tier does.
func (t TierTable) TierForDuration(minutes int) (Tier, bool) {
	for _, tier := range t.Tiers {
		if minutes <= tier.MaxDurationMins {
			return tier, true
		}
	}
	return Tier{}, false
}

// VideoCost returns the deterministic credit cost for processing media of
// the given duration. Every started minute is charged; frame analysis
// adds a per-minute surcharge. The cost is never below one credit.
func (t TierTable) VideoCost(durationMinutes float64, analyzeFrames bool) int {
	minutes := math.Ceil(durationMinutes)
	if minutes < 1 {
		minutes = 1
	}
	cost := int(math.Ceil(minutes * t.Pricing.CreditsPerMinute))
	if analyzeFrames {
		cost += int(math.Ceil(minutes * t.Pricing.FrameAnalysisPerMinute))
	}
	if cost < 1 {
		cost = 1
	}
	return cost
}

func (t TierTable) validate() error {
	if len(t.Tiers) == 0 {
		return fmt.Errorf("tier table must define at least one tier")
	}
	prev := 0
	for _, tier := range t.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("tier with empty name")
		}
		if tier.MaxDurationMins <= 0 || tier.StorageLimitMB <= 0 {
			return fmt.Errorf("tier %q has non-positive limits", tier.Name)
		}
		if tier.MaxDurationMins < prev {
			return fmt.Errorf("tiers must be ordered by ascending max duration (%q breaks the order)", tier.Name)
		}
		prev = tier.MaxDurationMins
	}
	if t.Pricing.CreditsPerMinute <= 0 {
		return fmt.Errorf("credits_per_minute must be positive")
	}
	return nil
}
