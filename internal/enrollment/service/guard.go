package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/classpay/internal/apperr"
	"github.com/smallbiznis/classpay/internal/clock"
	enrollmentdomain "github.com/smallbiznis/classpay/internal/enrollment/domain"
	"github.com/smallbiznis/classpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/classpay/internal/observability/metrics"
	"github.com/smallbiznis/classpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts bounds how often a roster write is tried after losing a
// serialization race.
const maxAttempts = 2

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       enrollmentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Guard struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       enrollmentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) enrollmentdomain.Service {
	return newGuard(p)
}

func newGuard(p Params) *Guard {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Guard{
		db:         p.DB,
		log:        p.Log.Named("enrollment.guard"),
		clock:      clk,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (g *Guard) EnrollStudent(ctx context.Context, classID, studentID string) (enrollmentdomain.RosterChangeResult, error) {
	return g.mutate(ctx, "enroll_student", enrollmentdomain.RoleStudent, classID, studentID, true)
}

func (g *Guard) UnenrollStudent(ctx context.Context, classID, studentID string) (enrollmentdomain.RosterChangeResult, error) {
	return g.mutate(ctx, "unenroll_student", enrollmentdomain.RoleStudent, classID, studentID, false)
}

func (g *Guard) AssignTeacher(ctx context.Context, classID, teacherID string) (enrollmentdomain.RosterChangeResult, error) {
	return g.mutate(ctx, "assign_teacher", enrollmentdomain.RoleTeacher, classID, teacherID, true)
}

func (g *Guard) UnassignTeacher(ctx context.Context, classID, teacherID string) (enrollmentdomain.RosterChangeResult, error) {
	return g.mutate(ctx, "unassign_teacher", enrollmentdomain.RoleTeacher, classID, teacherID, false)
}

func (g *Guard) Status(ctx context.Context, classID, studentID string) (bool, error) {
	classID, studentID, err := normalizeRefs(classID, studentID)
	if err != nil {
		return false, err
	}
	found, err := g.repo.ClassExists(ctx, g.db, classID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, &apperr.NotFoundError{Resource: "class", Key: classID}
	}
	return g.repo.HasMember(ctx, g.db, enrollmentdomain.RoleStudent, classID, studentID)
}

// mutate runs one roster change in a serializable transaction that holds the
// class row lock. A lost race is retried once, then surfaced as a conflict.
func (g *Guard) mutate(ctx context.Context, op string, role enrollmentdomain.Role, classID, ref string, add bool) (enrollmentdomain.RosterChangeResult, error) {
	classID, ref, err := normalizeRefs(classID, ref)
	if err != nil {
		return "", err
	}
	log := logger.ForClass(ctx, g.log, classID, ref).With(zap.String("operation", op))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := g.apply(ctx, role, classID, ref, add)
		if err == nil {
			g.obsMetrics.RecordRosterChange(ctx, op, string(result))
			if result.Changed() {
				log.Info("roster changed", zap.String("result", string(result)))
			}
			return result, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
		g.obsMetrics.RecordRosterConflict(ctx, op)
		log.Warn("roster write lost a serialization race", zap.Int("attempt", attempt), zap.Error(err))
	}

	return "", &apperr.ConflictError{Resource: "class", Key: classID, Err: lastErr}
}

func (g *Guard) apply(ctx context.Context, role enrollmentdomain.Role, classID, ref string, add bool) (enrollmentdomain.RosterChangeResult, error) {
	var result enrollmentdomain.RosterChangeResult
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := g.repo.LockClass(ctx, tx, classID)
		if err != nil {
			return err
		}
		if !found {
			return &apperr.NotFoundError{Resource: "class", Key: classID}
		}

		present, err := g.repo.HasMember(ctx, tx, role, classID, ref)
		if err != nil {
			return err
		}

		switch {
		case add && present:
			result = enrollmentdomain.ResultAlreadyPresent
		case add:
			inserted, err := g.repo.AddMember(ctx, tx, role, classID, ref, g.clock.Now())
			if err != nil {
				return err
			}
			result = enrollmentdomain.ResultAdded
			if !inserted {
				result = enrollmentdomain.ResultAlreadyPresent
			}
		case present:
			removed, err := g.repo.RemoveMember(ctx, tx, role, classID, ref)
			if err != nil {
				return err
			}
			result = enrollmentdomain.ResultRemoved
			if !removed {
				result = enrollmentdomain.ResultAbsent
			}
		default:
			result = enrollmentdomain.ResultAbsent
		}
		return nil
	}, db.SerializableTx(g.db))
	if err != nil {
		return "", err
	}
	return result, nil
}

func normalizeRefs(classID, ref string) (string, string, error) {
	classID = strings.TrimSpace(classID)
	ref = strings.TrimSpace(ref)
	if classID == "" {
		return "", "", apperr.Validation("class_id", enrollmentdomain.ErrInvalidClass)
	}
	if ref == "" {
		return "", "", apperr.Validation("member_id", enrollmentdomain.ErrInvalidMember)
	}
	return classID, ref, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var notFound *apperr.NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	return db.IsSerializationFailure(err) || db.IsDuplicateKeyErr(err)
}
