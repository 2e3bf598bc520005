// Package account owns the challenge lifecycle: ACTIVE until a terminal
// PASSED or FAILED, after which nothing moves it again. Local risk verdicts
// are advisory only; transitions happen on a remote verdict or an explicit
// rule-violation signal, keeping the backend the single source of truth for
// irreversible outcomes.
package account

import (
	"propeval/internal/logger"
	"propeval/internal/risk"
	"propeval/internal/types"
)

// Machine serializes status transitions for one account. Not safe for
// concurrent use; the engine's actor loop is the only caller.
type Machine struct {
	acc types.Account
}

func NewMachine(acc types.Account) *Machine {
	if acc.Status == "" {
		acc.Status = types.StatusActive
	}
	return &Machine{acc: acc}
}

// Account returns the current account value.
func (m *Machine) Account() types.Account {
	return m.acc
}

// SetEquity replaces the realized equity figure. Status is untouched.
func (m *Machine) SetEquity(equity float64) {
	m.acc.Equity = equity
}

// Hydrate replaces the account wholesale with the backend's copy during
// startup recovery. Fields the backend omitted keep their configured seeds,
// so a partial payload cannot zero out the thresholds.
func (m *Machine) Hydrate(acc types.Account) types.Account {
	if acc.ChallengeID == "" {
		acc.ChallengeID = m.acc.ChallengeID
	}
	if acc.Status == "" {
		acc.Status = types.StatusActive
	}
	if acc.StartBalance == 0 {
		acc.StartBalance = m.acc.StartBalance
	}
	if acc.ProfitTargetPct == 0 {
		acc.ProfitTargetPct = m.acc.ProfitTargetPct
	}
	if acc.MaxDrawdownPct == 0 {
		acc.MaxDrawdownPct = m.acc.MaxDrawdownPct
	}
	if m.acc.Status != acc.Status {
		logger.Infof("account: challenge %s hydrated as %s (equity=%.2f)", acc.ChallengeID, acc.Status, acc.Equity)
	}
	m.acc = acc
	return m.acc
}

// Apply reconciles a local evaluation with the remote verdict. The remote
// side wins every disagreement: a remote FAILED locks trading even when the
// same tick computed PASSED locally. When the remote call itself failed
// (remoteKnown false) the local verdict stays advisory and nothing
// transitions: the account fails open to ACTIVE, never to a terminal state,
// on a mere communication error.
func (m *Machine) Apply(local risk.Verdict, remote types.AccountStatus, remoteKnown bool) types.Account {
	if m.acc.Status.Terminal() {
		return m.acc
	}
	if !remoteKnown {
		if local != risk.VerdictNone {
			logger.Debugf("account: local verdict %s held as advisory, remote unavailable", local)
		}
		return m.acc
	}
	switch remote {
	case types.StatusFailed:
		m.transition(types.StatusFailed)
	case types.StatusPassed:
		if local == risk.VerdictFailed {
			logger.Warnf("account: remote PASSED overrides local FAILED for challenge %s", m.acc.ChallengeID)
		}
		m.transition(types.StatusPassed)
	}
	return m.acc
}

// ForceFail applies the terminal FAILED state immediately. Used when the
// ledger rejects a submission with a rule-violation code, which is treated as
// an authoritative signal rather than a transient error.
func (m *Machine) ForceFail() types.Account {
	if !m.acc.Status.Terminal() {
		m.transition(types.StatusFailed)
	}
	return m.acc
}

func (m *Machine) transition(to types.AccountStatus) {
	from := m.acc.Status
	if from == to {
		return
	}
	m.acc.Status = to
	logger.Infof("account: challenge %s %s -> %s", m.acc.ChallengeID, from, to)
}
