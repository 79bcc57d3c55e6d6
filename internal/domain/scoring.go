package domain

import "math"

// Grade is the letter summary of a scan.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

func (g Grade) Valid() bool {
	switch g {
	case GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}

// Penalties per finding status.
const (
	FailPenalty = 14
	WarnPenalty = 7
)

// ScoreCard is the deterministic result of scoring a set of tallies.
type ScoreCard struct {
	BaseScore int
	RiskScore float64
	Grade     Grade
}

// Score computes base score, risk score and grade from fail and warn counts.
func Score(fails, warns int) ScoreCard {
	base := 100 - fails*FailPenalty - warns*WarnPenalty
	if base < 0 {
		base = 0
	}
	if base > 100 {
		base = 100
	}
	return ScoreCard{BaseScore: base, RiskScore: float64(100 - base), Grade: gradeFor(base)}
}

func gradeFor(base int) Grade {
	switch {
	case base >= 90:
		return GradeA
	case base >= 75:
		return GradeB
	case base >= 60:
		return GradeC
	}
	return GradeD
}

// MaxJitter bounds the display jitter that can be added to a risk score.
const MaxJitter = 4.0

// WithJitter adds j (clamped to [0, MaxJitter]) to the risk score, rounded to one decimal
// and capped at 100. The grade is left untouched.
func (s ScoreCard) WithJitter(j float64) ScoreCard {
	if j <= 0 {
		return s
	}
	j = math.Min(j, MaxJitter)
	s.RiskScore = math.Min(100, math.Round((s.RiskScore+j)*10)/10)
	return s
}

// Tally counts the score-affecting statuses of findings.
func Tally(findings []Finding) (fails, warns int) {
	for _, f := range findings {
		switch f.Status {
		case FindingFail:
			fails++
		case FindingWarn:
			warns++
		}
	}
	return fails, warns
}
