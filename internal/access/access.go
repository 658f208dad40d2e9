// Package access: проверка прав через внешний сервис ролей.
// Ядро доверяет ответу Allowed и собственной политики не содержит.
package access

import (
	"context"
	"fmt"

	"github.com/Spok95/binledger/internal/errs"
)

const (
	ActionReceive        = "inventory.receive"
	ActionIssue          = "inventory.issue"
	ActionTransfer       = "bins.transfer"
	ActionBinStatus      = "bins.status"
	ActionAdjustMaterial = "materials.adjust"
	ActionRemoveMaterial = "materials.remove"
	ActionImportCommit   = "import.commit"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Role    string `json:"role"`
}

type Checker interface {
	CheckPermission(ctx context.Context, actorID, action string) (Decision, error)
}

// Require: ошибка PermissionDenied, если действие запрещено.
func Require(ctx context.Context, c Checker, actorID, action string) error {
	if actorID == "" {
		return errs.New(errs.Validation, "actor is required")
	}
	d, err := c.CheckPermission(ctx, actorID, action)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", action, err)
	}
	if !d.Allowed {
		return errs.New(errs.PermissionDenied, "actor %s may not %s", actorID, action).With("role", d.Role)
	}
	return nil
}

// AllowAll используется, когда сервис ролей не настроен.
type AllowAll struct{}

func (AllowAll) CheckPermission(context.Context, string, string) (Decision, error) {
	return Decision{Allowed: true, Role: "any"}, nil
}

// CheckerFunc: адаптер функции к Checker.
type CheckerFunc func(ctx context.Context, actorID, action string) (Decision, error)

func (f CheckerFunc) CheckPermission(ctx context.Context, actorID, action string) (Decision, error) {
	return f(ctx, actorID, action)
}
