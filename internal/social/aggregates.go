package social

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/interaction"
)

// InequalityMetric names the wealth inequality index reported as Inequality.
type InequalityMetric string

const (
	MetricGini  InequalityMetric = "gini"
	MetricTheil InequalityMetric = "theil" // Normalised by ln(n) into [0, 1]
)

// Valid reports whether m is a known metric.
func (m InequalityMetric) Valid() bool {
	return m == MetricGini || m == MetricTheil
}

// SexStats summarises one sex.
type SexStats struct {
	Count           int     `json:"count"`
	MeanWealth      float64 `json:"mean_wealth"`
	MeanPower       float64 `json:"mean_power"`
	MeanCare        float64 `json:"mean_care"`
	MeanCompetition float64 `json:"mean_competition"`
	WealthStdDev    float64 `json:"wealth_std_dev"`
	PowerStdDev     float64 `json:"power_std_dev"`
}

// IdeologyCounts counts agents per ideology.
type IdeologyCounts struct {
	Patriarchal int `json:"patriarchal"`
	Feminist    int `json:"feminist"`
	Utilitarian int `json:"utilitarian"`
}

func (c *IdeologyCounts) add(i agents.Ideology) {
	switch i {
	case agents.IdeologyPatriarchal:
		c.Patriarchal++
	case agents.IdeologyFeminist:
		c.Feminist++
	case agents.IdeologyUtilitarian:
		c.Utilitarian++
	}
}

// Elite describes the core decision circle: the top 5% by power.
type Elite struct {
	Members  []agents.AgentID     `json:"members"`
	Male     int                  `json:"male"`
	Female   int                  `json:"female"`
	Tiers    [agents.NumTiers]int `json:"tiers"`
	Ideology IdeologyCounts       `json:"ideology"`
}

// Aggregates are the population-level statistics after a step.
type Aggregates struct {
	Step       int `json:"step"`
	Population int `json:"population"`

	TotalWealth uint64  `json:"total_wealth"` // Wealth units
	MeanWealth  float64 `json:"mean_wealth"`  // 1.0 scale

	InequalityMetric InequalityMetric `json:"inequality_metric"`
	Inequality       float64          `json:"inequality"`
	Equality         float64          `json:"equality"`
	Gini             float64          `json:"gini"`
	Theil            float64          `json:"theil"`

	TierCounts     [agents.NumTiers]int     `json:"tier_counts"`
	TierMeanWealth [agents.NumTiers]float64 `json:"tier_mean_wealth"`
	TierChanges    int                      `json:"tier_changes"`
	MobilityRate   float64                  `json:"mobility_rate"`

	AvgPower    float64 `json:"avg_power"`
	AvgIdeology float64 `json:"avg_ideology"`

	Male      SexStats `json:"male"`
	Female    SexStats `json:"female"`
	PowerGap  float64  `json:"power_gap"`  // Male minus female mean power
	WealthGap float64  `json:"wealth_gap"` // Male minus female mean wealth

	Ideology IdeologyCounts     `json:"ideology"`
	Elite    Elite              `json:"elite"`
	Policy   interaction.Policy `json:"policy"`

	Flows   interaction.Flows   `json:"flows"`
	Clamps  int                 `json:"clamps"`
	Entries int                 `json:"entries"`
	Exits   int                 `json:"exits"`
	Events  []interaction.Event `json:"events,omitempty"`
}

// Clone returns a copy sharing no memory with a.
func (a Aggregates) Clone() Aggregates {
	c := a
	c.Elite.Members = slices.Clone(a.Elite.Members)
	if a.Events != nil {
		c.Events = make([]interaction.Event, len(a.Events))
		for i, e := range a.Events {
			e.Meta = maps.Clone(e.Meta)
			c.Events[i] = e
		}
	}
	return c
}

// metrics maps exported metric names to their accessors.
var metrics = map[string]func(*Aggregates) float64{
	"population":         func(a *Aggregates) float64 { return float64(a.Population) },
	"total_wealth":       func(a *Aggregates) float64 { return float64(a.TotalWealth) / agents.WealthUnit },
	"mean_wealth":        func(a *Aggregates) float64 { return a.MeanWealth },
	"inequality":         func(a *Aggregates) float64 { return a.Inequality },
	"equality":           func(a *Aggregates) float64 { return a.Equality },
	"gini":               func(a *Aggregates) float64 { return a.Gini },
	"theil":              func(a *Aggregates) float64 { return a.Theil },
	"tier_lower":         func(a *Aggregates) float64 { return float64(a.TierCounts[agents.TierLower]) },
	"tier_middle":        func(a *Aggregates) float64 { return float64(a.TierCounts[agents.TierMiddle]) },
	"tier_upper":         func(a *Aggregates) float64 { return float64(a.TierCounts[agents.TierUpper]) },
	"tier_changes":       func(a *Aggregates) float64 { return float64(a.TierChanges) },
	"mobility_rate":      func(a *Aggregates) float64 { return a.MobilityRate },
	"avg_power":          func(a *Aggregates) float64 { return a.AvgPower },
	"avg_ideology":       func(a *Aggregates) float64 { return a.AvgIdeology },
	"power_gap":          func(a *Aggregates) float64 { return a.PowerGap },
	"wealth_gap":         func(a *Aggregates) float64 { return a.WealthGap },
	"male_mean_wealth":   func(a *Aggregates) float64 { return a.Male.MeanWealth },
	"female_mean_wealth": func(a *Aggregates) float64 { return a.Female.MeanWealth },
	"male_mean_power":    func(a *Aggregates) float64 { return a.Male.MeanPower },
	"female_mean_power":  func(a *Aggregates) float64 { return a.Female.MeanPower },
	"ideology_p":         func(a *Aggregates) float64 { return float64(a.Ideology.Patriarchal) },
	"ideology_f":         func(a *Aggregates) float64 { return float64(a.Ideology.Feminist) },
	"ideology_u":         func(a *Aggregates) float64 { return float64(a.Ideology.Utilitarian) },
	"elite_size":         func(a *Aggregates) float64 { return float64(len(a.Elite.Members)) },
	"elite_female":       func(a *Aggregates) float64 { return float64(a.Elite.Female) },
	"competition_reward": func(a *Aggregates) float64 { return a.Policy.CompetitionReward },
	"care_reward":        func(a *Aggregates) float64 { return a.Policy.CareReward },
	"tax_redistribution": func(a *Aggregates) float64 { return a.Policy.TaxRedistribution },
	"attribution_bias":   func(a *Aggregates) float64 { return a.Policy.AttributionBias },
	"social_sanction":    func(a *Aggregates) float64 { return a.Policy.SocialSanction },
	"minted":             func(a *Aggregates) float64 { return float64(a.Flows.Minted) / agents.WealthUnit },
	"burned":             func(a *Aggregates) float64 { return float64(a.Flows.Burned) / agents.WealthUnit },
	"clamps":             func(a *Aggregates) float64 { return float64(a.Clamps) },
	"entries":            func(a *Aggregates) float64 { return float64(a.Entries) },
	"exits":              func(a *Aggregates) float64 { return float64(a.Exits) },
}

// MetricNames lists every name accepted by Metric, sorted.
func MetricNames() []string {
	names := slices.Collect(maps.Keys(metrics))
	sort.Strings(names)
	return names
}

// Metric returns the named scalar, or false if the name is unknown.
func (a *Aggregates) Metric(name string) (float64, bool) {
	fn, ok := metrics[name]
	if !ok {
		return 0, false
	}
	return fn(a), true
}

// churn is what happened to the population between two commits.
type churn struct {
	entries, exits int
	minted         uint64
}

// compute derives every statistic from the live agents in order.
func compute(list []*agents.Agent, metric InequalityMetric) Aggregates {
	agg := Aggregates{Population: len(list), InequalityMetric: metric}
	if len(list) == 0 {
		agg.Equality = 1
		return agg
	}

	wealth := make([]uint64, len(list))
	var tierSum [agents.NumTiers]uint64
	var male, female statsAcc
	var power, ideology float64
	for i, a := range list {
		wealth[i] = a.Wealth
		agg.TotalWealth += a.Wealth
		agg.TierCounts[a.Tier]++
		tierSum[a.Tier] += a.Wealth
		power += a.Power
		ideology += a.Ideology.Value()
		agg.Ideology.add(a.Ideology)
		if a.Sex == agents.SexMale {
			male.add(a)
		} else {
			female.add(a)
		}
	}
	n := float64(len(list))
	agg.MeanWealth = float64(agg.TotalWealth) / agents.WealthUnit / n
	agg.AvgPower = power / n
	agg.AvgIdeology = ideology / n
	for t := range tierSum {
		if agg.TierCounts[t] > 0 {
			agg.TierMeanWealth[t] = float64(tierSum[t]) / agents.WealthUnit / float64(agg.TierCounts[t])
		}
	}

	agg.Gini = Gini(wealth)
	agg.Theil = Theil(wealth)
	agg.Inequality = agg.Gini
	if metric == MetricTheil {
		agg.Inequality = agg.Theil
	}
	agg.Equality = 1 - agg.Inequality

	agg.Male = male.stats()
	agg.Female = female.stats()
	agg.PowerGap = agg.Male.MeanPower - agg.Female.MeanPower
	agg.WealthGap = agg.Male.MeanWealth - agg.Female.MeanWealth

	agg.Elite = eliteCircle(list)
	return agg
}

// eliteCircle takes the top 5% by power, at least one agent. Ties keep
// society order.
func eliteCircle(list []*agents.Agent) Elite {
	ranked := slices.Clone(list)
	slices.SortStableFunc(ranked, func(a, b *agents.Agent) int {
		return cmp.Compare(b.Power, a.Power)
	})
	size := max(1, len(list)*5/100)

	var e Elite
	e.Members = make([]agents.AgentID, 0, size)
	for _, a := range ranked[:size] {
		e.Members = append(e.Members, a.ID)
		if a.Sex == agents.SexMale {
			e.Male++
		} else {
			e.Female++
		}
		e.Tiers[a.Tier]++
		e.Ideology.add(a.Ideology)
	}
	return e
}

type statsAcc struct {
	n                 int
	wealth, wealthSq  float64
	power, powerSq    float64
	care, competition float64
}

func (s *statsAcc) add(a *agents.Agent) {
	w := a.WealthValue()
	s.n++
	s.wealth += w
	s.wealthSq += w * w
	s.power += a.Power
	s.powerSq += a.Power * a.Power
	s.care += a.Skills.Care
	s.competition += a.Skills.Competition
}

func (s *statsAcc) stats() SexStats {
	if s.n == 0 {
		return SexStats{}
	}
	n := float64(s.n)
	out := SexStats{
		Count:           s.n,
		MeanWealth:      s.wealth / n,
		MeanPower:       s.power / n,
		MeanCare:        s.care / n,
		MeanCompetition: s.competition / n,
	}
	out.WealthStdDev = math.Sqrt(math.Max(0, s.wealthSq/n-out.MeanWealth*out.MeanWealth))
	out.PowerStdDev = math.Sqrt(math.Max(0, s.powerSq/n-out.MeanPower*out.MeanPower))
	return out
}

// Gini returns the Gini coefficient of w in [0, 1). Zero total gives 0.
func Gini(w []uint64) float64 {
	n := len(w)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(w)
	slices.Sort(sorted)

	var total, weighted float64
	for i, v := range sorted {
		total += float64(v)
		weighted += float64(i+1) * float64(v)
	}
	if total == 0 {
		return 0
	}
	g := 2*weighted/(float64(n)*total) - float64(n+1)/float64(n)
	return math.Max(0, g)
}

// Theil returns the Theil T index of w divided by ln(n), so it lies in [0, 1].
func Theil(w []uint64) float64 {
	n := len(w)
	if n < 2 {
		return 0
	}
	var total float64
	for _, v := range w {
		total += float64(v)
	}
	if total == 0 {
		return 0
	}
	mean := total / float64(n)
	t := 0.0
	for _, v := range w {
		if v == 0 {
			continue
		}
		r := float64(v) / mean
		t += r * math.Log(r)
	}
	t /= float64(n)
	return math.Min(1, math.Max(0, t/math.Log(float64(n))))
}

func (a Aggregates) String() string {
	return fmt.Sprintf("step %d: pop=%d wealth=%.3f %s=%.3f mobility=%.3f",
		a.Step, a.Population, float64(a.TotalWealth)/agents.WealthUnit, a.InequalityMetric, a.Inequality, a.MobilityRate)
}
