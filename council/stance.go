package council

import "fmt"

// Stance is a fixed behavioral profile assigned to a voter, expressed
// primarily via sampling temperature and optionally via a distinct model
// provider.
type Stance string

const (
	StanceAnalytical Stance = "analytical"
	StanceCreative   Stance = "creative"
	StanceCritical   Stance = "critical"
)

// stanceOrder fixes the enumeration order used for deterministic
// tie-breaking and for stable prompt construction.
var stanceOrder = map[Stance]int{
	StanceAnalytical: 0,
	StanceCreative:   1,
	StanceCritical:   2,
}

var stanceTemperatures = map[Stance]float64{
	StanceAnalytical: 0.3,
	StanceCreative:   0.9,
	StanceCritical:   0.5,
}

var stancePersonas = map[Stance]string{
	StanceAnalytical: "You reason step by step from the provided sources, prioritizing precision and verifiable claims.",
	StanceCreative:   "You explore unconventional angles and connections the obvious reading might miss, while staying anchored to the sources.",
	StanceCritical:   "You stress-test the obvious answer: look for missing evidence, counterexamples, and overclaims before committing.",
}

// AllStances returns the closed stance enumeration in order.
func AllStances() []Stance {
	return []Stance{StanceAnalytical, StanceCreative, StanceCritical}
}

// ParseStance validates a stance name.
func ParseStance(s string) (Stance, error) {
	stance := Stance(s)
	if _, ok := stanceOrder[stance]; !ok {
		return "", fmt.Errorf("unknown stance %q", s)
	}
	return stance, nil
}

// Order returns the stance's position in the enumeration. Unknown stances
// sort last.
func (s Stance) Order() int {
	if o, ok := stanceOrder[s]; ok {
		return o
	}
	return len(stanceOrder)
}

// DefaultTemperature returns the stance's design-default sampling
// temperature. These are defaults, not constraints; voter configuration
// may override them.
func (s Stance) DefaultTemperature() float64 {
	if t, ok := stanceTemperatures[s]; ok {
		return t
	}
	return 0.5
}

// Persona returns the stance's system-prompt fragment.
func (s Stance) Persona() string {
	return stancePersonas[s]
}
