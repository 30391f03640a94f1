package models

import "aegis/pkg/domerrors"

// Action is the closed set of mitigation actions the pipeline can govern.
// Dispatch is keyed on this enum, never on free-form strings, so the
// compiler and the catalog below stay the single source of truth.
type Action string

const (
	ActionNone             Action = "NONE"
	ActionCaptchaChallenge Action = "CAPTCHA_CHALLENGE"
	ActionRateLimit        Action = "RATE_LIMIT"
	ActionStepUpAuth       Action = "STEP_UP_AUTH"
	ActionSessionTerminate Action = "SESSION_TERMINATE"
	ActionTokenRevoke      Action = "TOKEN_REVOKE"
	ActionIPBlock          Action = "IP_BLOCK"
	ActionHostIsolate      Action = "HOST_ISOLATE"
	ActionTenantLockdown   Action = "TENANT_LOCKDOWN"
)

// Scope is the level a cooldown or blast estimate applies to.
type Scope string

const (
	ScopeSession Scope = "SESSION"
	ScopeUser    Scope = "USER"
	ScopeIP      Scope = "IP"
	ScopeTenant  Scope = "TENANT"
)

// ActionTraits captures the operational profile of an action.
type ActionTraits struct {
	// Scope is the natural blast scope of the action.
	Scope Scope
	// Reversibility in [0,1]; 1.0 means fully and trivially reversible.
	Reversibility float64
	// AutoEligible marks actions on the constrained auto-execution
	// whitelist. Everything else requires a human by default.
	AutoEligible bool
	// ManualOnly actions can never be auto-approved, whatever policy says.
	ManualOnly bool
}

// actionCatalog is the fixed trait table. Reversibility estimates:
// throttling and challenges cost nothing to undo, token revocation forces
// re-authentication everywhere, host isolation is undoable but wide,
// tenant lockdown is close to a business outage.
var actionCatalog = map[Action]ActionTraits{
	ActionNone:             {Scope: ScopeSession, Reversibility: 1.0},
	ActionCaptchaChallenge: {Scope: ScopeSession, Reversibility: 1.0, AutoEligible: true},
	ActionRateLimit:        {Scope: ScopeSession, Reversibility: 1.0, AutoEligible: true},
	ActionStepUpAuth:       {Scope: ScopeUser, Reversibility: 0.95, AutoEligible: true},
	ActionSessionTerminate: {Scope: ScopeSession, Reversibility: 0.9, AutoEligible: true},
	ActionTokenRevoke:      {Scope: ScopeUser, Reversibility: 0.5, ManualOnly: true},
	ActionIPBlock:          {Scope: ScopeIP, Reversibility: 0.7},
	ActionHostIsolate:      {Scope: ScopeIP, Reversibility: 0.8, ManualOnly: true},
	ActionTenantLockdown:   {Scope: ScopeTenant, Reversibility: 0.3, ManualOnly: true},
}

// Traits returns the catalog entry for a. Unknown actions get the most
// conservative profile: tenant scope, irreversible, manual only.
func (a Action) Traits() ActionTraits {
	if t, ok := actionCatalog[a]; ok {
		return t
	}
	return ActionTraits{Scope: ScopeTenant, Reversibility: 0, ManualOnly: true}
}

// IsValid reports whether a is in the closed action set.
func (a Action) IsValid() bool {
	_, ok := actionCatalog[a]
	return ok
}

// ParseAction validates a wire-format action name.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", domerrors.Newf(domerrors.CodeInvalidInput, "unknown action %q", s)
	}
	return a, nil
}

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeSession, ScopeUser, ScopeIP, ScopeTenant:
		return true
	}
	return false
}
