package analysis

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drfirst/labinsight/internal/domain/labs"
)

// Config holds the tables that parameterize the engine
type Config struct {
	Conditions        []ConditionDefinition `mapstructure:"conditions"`
	Periods           []PeriodDefinition    `mapstructure:"periods"`
	DefaultPeriodDays int                   `mapstructure:"default_period_days"`
}

// Engine runs the table-driven analyses. It is read-only after construction
// and safe for concurrent use.
type Engine struct {
	conditions        []ConditionDefinition
	periods           map[string]int
	defaultPeriodDays int

	// stage hooks, replaced in tests
	summarize      func(*labs.ValueSet) (*SummaryReport, error)
	detectOutliers func(*labs.ValueSet) (*OutlierReport, error)
	scoreRisk      func(*labs.ValueSet) (*RiskReport, error)
}

// NewEngine validates cfg and builds an engine. Condition keywords are
// normalized the same way as marker names.
func NewEngine(cfg Config) (*Engine, error) {
	if len(cfg.Conditions) == 0 {
		return nil, errors.New("at least one condition is required")
	}

	e := &Engine{
		periods:           make(map[string]int, len(cfg.Periods)),
		defaultPeriodDays: cfg.DefaultPeriodDays,
	}
	if e.defaultPeriodDays == 0 {
		e.defaultPeriodDays = DefaultPeriodDays
	}
	if e.defaultPeriodDays < 0 {
		return nil, fmt.Errorf("default period days must be positive, got %d", cfg.DefaultPeriodDays)
	}

	seen := make(map[string]bool, len(cfg.Conditions))
	for i, c := range cfg.Conditions {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("condition %d: name is required", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("condition %q: duplicate name", name)
		}
		seen[name] = true
		if len(c.Markers) == 0 {
			return nil, fmt.Errorf("condition %q: at least one marker is required", name)
		}
		markers := make([]string, 0, len(c.Markers))
		for _, m := range c.Markers {
			k := NormalizeMarkerName(strings.TrimSpace(m))
			if k == "" {
				return nil, fmt.Errorf("condition %q: empty marker keyword", name)
			}
			markers = append(markers, k)
		}
		e.conditions = append(e.conditions, ConditionDefinition{Name: name, Markers: markers})
	}

	for _, p := range cfg.Periods {
		if p.Token == "" {
			return nil, errors.New("period token is required")
		}
		if p.Days <= 0 {
			return nil, fmt.Errorf("period %q: days must be positive, got %d", p.Token, p.Days)
		}
		if _, dup := e.periods[p.Token]; dup {
			return nil, fmt.Errorf("period %q: duplicate token", p.Token)
		}
		e.periods[p.Token] = p.Days
	}

	e.summarize = Summarize
	e.detectOutliers = DetectOutliers
	e.scoreRisk = e.ScoreRisk
	return e, nil
}

// PeriodDays resolves a period token, falling back to the default window
func (e *Engine) PeriodDays(token string) int {
	if days, ok := e.periods[token]; ok {
		return days
	}
	return e.defaultPeriodDays
}

// Conditions returns a copy of the configured condition table
func (e *Engine) Conditions() []ConditionDefinition {
	out := make([]ConditionDefinition, len(e.conditions))
	for i, c := range e.conditions {
		out[i] = ConditionDefinition{Name: c.Name, Markers: append([]string(nil), c.Markers...)}
	}
	return out
}
