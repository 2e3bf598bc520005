// Package risk evaluates live equity against the challenge's profit target
// and maximum drawdown. Evaluate is pure and never touches the account: it
// returns a verdict that only the account state machine may apply.
package risk

import (
	"fmt"
	"math"
	"time"

	"propeval/internal/types"
)

// Verdict is the outcome of one evaluation cycle.
type Verdict string

const (
	VerdictNone   Verdict = "NONE"
	VerdictPassed Verdict = "PASSED"
	VerdictFailed Verdict = "FAILED"
)

// Advisory warning ratios, relative to the hard thresholds.
const (
	drawdownWarnRatio = 0.7
	profitWarnRatio   = 0.8
)

// Warning is an advisory surfaced to the user. It never changes account
// status.
type Warning struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const (
	WarnDrawdownNear = "DRAWDOWN_NEAR_LIMIT"
	WarnTargetNear   = "PROFIT_NEAR_TARGET"
)

// Assessment bundles the verdict with the metrics it was derived from.
type Assessment struct {
	Verdict     Verdict   `json:"verdict"`
	Warnings    []Warning `json:"warnings,omitempty"`
	DangerLevel int       `json:"danger_level"`
	ProfitPct   float64   `json:"profit_pct"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// Evaluate compares live equity against the account thresholds. When both
// thresholds are crossed in the same cycle, FAILED wins: protecting the firm
// from downside outranks crediting an upside produced by the same move.
func Evaluate(liveEquity float64, acc types.Account) Assessment {
	if acc.StartBalance <= 0 {
		return Assessment{Verdict: VerdictNone}
	}

	now := time.Now().UTC()
	profitPct := (liveEquity - acc.StartBalance) / acc.StartBalance * 100
	// Drawdown measures loss from the starting balance, not peak-to-trough,
	// and is exactly zero while equity sits at or above it.
	drawdownPct := (acc.StartBalance - math.Min(liveEquity, acc.StartBalance)) / acc.StartBalance * 100

	a := Assessment{
		Verdict:     VerdictNone,
		ProfitPct:   profitPct,
		DrawdownPct: drawdownPct,
		DangerLevel: dangerLevel(drawdownPct, acc.MaxDrawdownPct),
	}

	failed := acc.MaxDrawdownPct > 0 && drawdownPct >= acc.MaxDrawdownPct
	passed := acc.ProfitTargetPct != 0 && profitPct >= acc.ProfitTargetPct

	switch {
	case failed:
		a.Verdict = VerdictFailed
	case passed:
		a.Verdict = VerdictPassed
	}

	if !failed && acc.MaxDrawdownPct > 0 && drawdownPct >= drawdownWarnRatio*acc.MaxDrawdownPct {
		a.Warnings = append(a.Warnings, Warning{
			Code:    WarnDrawdownNear,
			Message: fmt.Sprintf("drawdown %.2f%% approaching limit %.2f%%", drawdownPct, acc.MaxDrawdownPct),
			At:      now,
		})
	}
	if !passed && acc.ProfitTargetPct > 0 && profitPct >= profitWarnRatio*acc.ProfitTargetPct {
		a.Warnings = append(a.Warnings, Warning{
			Code:    WarnTargetNear,
			Message: fmt.Sprintf("profit %.2f%% approaching target %.2f%%", profitPct, acc.ProfitTargetPct),
			At:      now,
		})
	}
	return a
}

func dangerLevel(drawdownPct, maxDrawdownPct float64) int {
	if maxDrawdownPct <= 0 || drawdownPct <= 0 {
		return 0
	}
	level := int(math.Round(drawdownPct / maxDrawdownPct * 100))
	if level > 100 {
		level = 100
	}
	return level
}
