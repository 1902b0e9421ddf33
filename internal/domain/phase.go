package domain

import "strings"

// Phase tags a stage declaration.
type Phase string

const (
	PhaseFixtures Phase = "fixtures"
	PhaseRun      Phase = "run"
	PhaseAnalyze  Phase = "analyze"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseFixtures, PhaseRun, PhaseAnalyze:
		return true
	default:
		return false
	}
}

func ParsePhase(value string) Phase {
	p := Phase(strings.ToLower(strings.TrimSpace(value)))
	if !p.Valid() {
		return ""
	}
	return p
}
