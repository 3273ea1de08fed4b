package authz

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/zap"
)

//go:embed model.conf
var defaultModel string

//go:embed policy.csv
var defaultPolicy string

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

const (
	ObjectPayroll = "payroll"
	ObjectAudit   = "audit"

	ActionRead     = "read"
	ActionWrite    = "write"
	ActionApprove  = "approve"
	ActionOverride = "override"
)

type Permission struct {
	Object string
	Action string
}

func (p Permission) String() string {
	return p.Object + ":" + p.Action
}

var (
	PayrollRead     = Permission{Object: ObjectPayroll, Action: ActionRead}
	PayrollWrite    = Permission{Object: ObjectPayroll, Action: ActionWrite}
	PayrollApprove  = Permission{Object: ObjectPayroll, Action: ActionApprove}
	PayrollOverride = Permission{Object: ObjectPayroll, Action: ActionOverride}
	AuditRead       = Permission{Object: ObjectAudit, Action: ActionRead}
)

// ParseMode validates a configured mode. Disabling authorization needs an
// explicit second switch.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
	log      *zap.Logger
}

// New loads the RBAC model and policy from the given files, or the bundled
// ones when both paths are empty.
func New(modelPath, policyPath string, mode Mode, logger *zap.Logger) (*Authorizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		enforcer *casbin.Enforcer
		err      error
	)
	switch {
	case modelPath == "" && policyPath == "":
		m, merr := model.NewModelFromString(defaultModel)
		if merr != nil {
			return nil, fmt.Errorf("authz: bundled model: %w", merr)
		}
		enforcer, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	case modelPath != "" && policyPath != "":
		enforcer, err = casbin.NewEnforcer(modelPath)
		if err == nil {
			enforcer.SetAdapter(fileadapter.NewAdapter(policyPath))
			err = enforcer.LoadPolicy()
		}
	default:
		return nil, errors.New("authz: AUTHZ_MODEL_PATH and AUTHZ_POLICY_PATH must be set together")
	}
	if err != nil {
		return nil, fmt.Errorf("authz: %w", err)
	}
	return &Authorizer{enforcer: enforcer, mode: mode, log: logger.Named("authz")}, nil
}

func (a *Authorizer) Mode() Mode {
	return a.mode
}

func SubjectFromRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		role = "anonymous"
	}
	return "role:" + role
}

func (a *Authorizer) Authorize(subject, object, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(subject, object, action)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(subject, object, action)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}

// Allow reports whether role may use perm under the current mode. Shadow
// mode logs what enforcement would have denied and lets the call through.
func (a *Authorizer) Allow(role string, perm Permission) (bool, error) {
	subject := SubjectFromRole(role)
	allowed, enforced, err := a.Authorize(subject, perm.Object, perm.Action)
	if err != nil {
		if !enforced && a.mode == ModeShadow {
			a.log.Warn("shadow authorization failed", zap.String("subject", subject), zap.String("permission", perm.String()), zap.Error(err))
			return true, nil
		}
		return false, err
	}
	if !allowed && !enforced {
		a.log.Info("shadow authorization denied", zap.String("subject", subject), zap.String("permission", perm.String()))
		return true, nil
	}
	return allowed, nil
}
