package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obscontext "github.com/smallbiznis/classpay/internal/observability/context"
	obslogger "github.com/smallbiznis/classpay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor obscontext.Actor, object string, action string) error {
	return s.enforce(ctx, actor, object, action, scopeAny)
}

// AuthorizeOwner allows rules scoped to the resource owner in addition to
// unscoped ones.
func (s *ServiceImpl) AuthorizeOwner(ctx context.Context, actor obscontext.Actor, object string, action string, ownerID string) error {
	scope := scopeOther
	if id := strings.TrimSpace(actor.ID); id != "" && id == strings.TrimSpace(ownerID) {
		scope = scopeOwn
	}
	return s.enforce(ctx, actor, object, action, scope)
}

func (s *ServiceImpl) enforce(ctx context.Context, actor obscontext.Actor, object, action, scope string) error {
	subject, roleName, err := resolveActor(actor)
	if err != nil {
		return err
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action, scope)
	if err != nil {
		return err
	}
	if !allowed {
		obslogger.WithContext(ctx, s.log).Info("authorization.denied",
			zap.String("subject", subject),
			zap.String("role", roleName),
			zap.String("object", object),
			zap.String("action", action),
			zap.String("scope", scope),
		)
		return ErrForbidden
	}
	return nil
}

func resolveActor(actor obscontext.Actor) (string, string, error) {
	id := strings.TrimSpace(actor.ID)
	if id == "" {
		return "", "", ErrInvalidActor
	}
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleSystem:
	default:
		return "", "", ErrInvalidActor
	}
	return "actor:" + id, "role:" + role, nil
}

// ensureGrouping keeps exactly one role link per subject, replacing a stale
// one when the proxy reports a different role.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Students act on their own records only
		{"role:student", ObjectPayment, ActionPaymentCreate, scopeOwn},
		{"role:student", ObjectPayment, ActionPaymentView, scopeOwn},
		{"role:student", ObjectInvoice, ActionInvoiceView, scopeOwn},
		{"role:student", ObjectEnrollment, ActionEnrollmentView, scopeOwn},

		{"role:teacher", ObjectEnrollment, ActionEnrollmentManage, scopeAny},
		{"role:teacher", ObjectEnrollment, ActionEnrollmentView, scopeAny},

		{"role:admin", "*", "*", scopeAny},
		{"role:system", "*", "*", scopeAny},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
