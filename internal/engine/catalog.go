package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"prodline/internal/domain"
	"prodline/internal/events"
)

type WorkshopPatch struct {
	Name     *string
	IsActive *bool
}

func (e Engine) CreateWorkshop(ctx context.Context, actor Actor, name string, active bool) (domain.Workshop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Workshop{}, invalidInput("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	w := domain.Workshop{ID: uuid.NewString(), Name: name, IsActive: active, CreatedAt: now, UpdatedAt: now}
	taken, err := e.Repo.WorkshopNameTaken(ctx, tx, w.Name, w.ID)
	if err != nil {
		return domain.Workshop{}, err
	}
	if taken {
		return domain.Workshop{}, newError(ErrConflict, map[string]any{"name": name}, "workshop %s already exists", name)
	}
	if err := e.Repo.InsertWorkshop(ctx, tx, w); err != nil {
		return domain.Workshop{}, err
	}
	if err := e.append(ctx, tx, actor, "workshop.created", events.KindWorkshop, w.ID, events.EventPayload{"name": w.Name}); err != nil {
		return domain.Workshop{}, err
	}
	return w, tx.Commit()
}

func (e Engine) GetWorkshop(ctx context.Context, id string) (domain.Workshop, error) {
	w, err := e.Repo.GetWorkshop(ctx, nil, id)
	return w, lookup(err, "workshop", id)
}

func (e Engine) ListWorkshops(ctx context.Context, active *bool) ([]domain.Workshop, error) {
	return e.Repo.ListWorkshops(ctx, active)
}

func (e Engine) UpdateWorkshop(ctx context.Context, actor Actor, id string, p WorkshopPatch) (domain.Workshop, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workshop{}, err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkshop(ctx, tx, id)
	if err != nil {
		return domain.Workshop{}, lookup(err, "workshop", id)
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return domain.Workshop{}, invalidInput("name is required")
		}
		taken, err := e.Repo.WorkshopNameTaken(ctx, tx, name, id)
		if err != nil {
			return domain.Workshop{}, err
		}
		if taken {
			return domain.Workshop{}, newError(ErrConflict, map[string]any{"name": name}, "workshop %s already exists", name)
		}
		w.Name = name
	}
	if p.IsActive != nil {
		w.IsActive = *p.IsActive
	}
	w.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateWorkshop(ctx, tx, w); err != nil {
		return domain.Workshop{}, err
	}
	if err := e.append(ctx, tx, actor, "workshop.updated", events.KindWorkshop, w.ID, events.EventPayload{"name": w.Name, "is_active": w.IsActive}); err != nil {
		return domain.Workshop{}, err
	}
	return w, tx.Commit()
}

func (e Engine) DeleteWorkshop(ctx context.Context, actor Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	w, err := e.Repo.GetWorkshop(ctx, tx, id)
	if err != nil {
		return lookup(err, "workshop", id)
	}
	used, err := e.Repo.WorkshopReferenced(ctx, tx, id)
	if err != nil {
		return err
	}
	if used {
		return newError(ErrProtected, map[string]any{"workshop_id": id}, "workshop %s is used by production orders", w.Name)
	}
	if err := e.Repo.DeleteWorkshop(ctx, tx, id); err != nil {
		return lookup(err, "workshop", id)
	}
	if err := e.append(ctx, tx, actor, "workshop.deleted", events.KindWorkshop, id, events.EventPayload{"name": w.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

type ProcessPatch struct {
	Code     *string
	Name     *string
	IsActive *bool
}

func (e Engine) CreateProcess(ctx context.Context, actor Actor, code, name string, active bool) (domain.Process, error) {
	code, name = strings.TrimSpace(code), strings.TrimSpace(name)
	if code == "" || name == "" {
		return domain.Process{}, invalidInput("code and name are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	p := domain.Process{ID: uuid.NewString(), Code: code, Name: name, IsActive: active, CreatedAt: now, UpdatedAt: now}
	if err := e.uniqueProcessCode(ctx, tx, code, p.ID); err != nil {
		return domain.Process{}, err
	}
	if err := e.Repo.InsertProcess(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	if err := e.append(ctx, tx, actor, "process.created", events.KindProcess, p.ID, events.EventPayload{"code": p.Code}); err != nil {
		return domain.Process{}, err
	}
	return p, tx.Commit()
}

// GetProcess returns a process with all of its steps in execution order.
func (e Engine) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	p, err := e.Repo.GetProcess(ctx, nil, id)
	if err != nil {
		return p, lookup(err, "process", id)
	}
	p.Steps, err = e.Repo.ListSteps(ctx, nil, id, false)
	return p, err
}

func (e Engine) ListProcesses(ctx context.Context, active *bool) ([]domain.Process, error) {
	return e.Repo.ListProcesses(ctx, active)
}

func (e Engine) UpdateProcess(ctx context.Context, actor Actor, id string, patch ProcessPatch) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcess(ctx, tx, id)
	if err != nil {
		return domain.Process{}, lookup(err, "process", id)
	}
	if patch.Code != nil {
		code := strings.TrimSpace(*patch.Code)
		if code == "" {
			return domain.Process{}, invalidInput("code is required")
		}
		if err := e.uniqueProcessCode(ctx, tx, code, id); err != nil {
			return domain.Process{}, err
		}
		p.Code = code
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return domain.Process{}, invalidInput("name is required")
		}
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateProcess(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	if err := e.append(ctx, tx, actor, "process.updated", events.KindProcess, p.ID, events.EventPayload{"code": p.Code, "is_active": p.IsActive}); err != nil {
		return domain.Process{}, err
	}
	return p, tx.Commit()
}

// DeleteProcess removes a process and its steps. Processes used by an order are protected.
func (e Engine) DeleteProcess(ctx context.Context, actor Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcess(ctx, tx, id)
	if err != nil {
		return lookup(err, "process", id)
	}
	used, err := e.Repo.ProcessReferenced(ctx, tx, id)
	if err != nil {
		return err
	}
	if used {
		return newError(ErrProtected, map[string]any{"process_id": id}, "process %s is used by production orders", p.Code)
	}
	if err := e.Repo.DeleteProcess(ctx, tx, id); err != nil {
		return lookup(err, "process", id)
	}
	if err := e.append(ctx, tx, actor, "process.deleted", events.KindProcess, id, events.EventPayload{"code": p.Code}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) uniqueProcessCode(ctx context.Context, tx *sql.Tx, code, exceptID string) error {
	taken, err := e.Repo.ProcessCodeTaken(ctx, tx, code, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return newError(ErrConflict, map[string]any{"code": code}, "process %s already exists", code)
	}
	return nil
}

type StepInput struct {
	ProcessID string
	Code      string
	Name      string
	Order     int
	// IsActive defaults to true.
	IsActive *bool
}

type StepPatch struct {
	Code     *string
	Name     *string
	Order    *int
	IsActive *bool
}

func (e Engine) CreateStep(ctx context.Context, actor Actor, in StepInput) (domain.ProcessStep, error) {
	code, name := strings.TrimSpace(in.Code), strings.TrimSpace(in.Name)
	if in.ProcessID == "" || code == "" || name == "" {
		return domain.ProcessStep{}, invalidInput("process_id, code and name are required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessStep{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProcess(ctx, tx, in.ProcessID); err != nil {
		return domain.ProcessStep{}, lookup(err, "process", in.ProcessID)
	}
	now := e.stamp()
	s := domain.ProcessStep{ID: uuid.NewString(), ProcessID: in.ProcessID, Code: code, Name: name, Order: in.Order, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if in.IsActive != nil {
		s.IsActive = *in.IsActive
	}
	if err := e.uniqueStepCode(ctx, tx, code, s.ID); err != nil {
		return domain.ProcessStep{}, err
	}
	if err := e.Repo.InsertStep(ctx, tx, s); err != nil {
		return domain.ProcessStep{}, err
	}
	if err := e.append(ctx, tx, actor, "step.created", events.KindStep, s.ID, events.EventPayload{
		"process_id": s.ProcessID, "code": s.Code, "order": s.Order,
	}); err != nil {
		return domain.ProcessStep{}, err
	}
	return s, tx.Commit()
}

func (e Engine) GetStep(ctx context.Context, id string) (domain.ProcessStep, error) {
	s, err := e.Repo.GetStep(ctx, nil, id)
	return s, lookup(err, "step", id)
}

func (e Engine) ListSteps(ctx context.Context, processID string, activeOnly bool) ([]domain.ProcessStep, error) {
	if _, err := e.Repo.GetProcess(ctx, nil, processID); err != nil {
		return nil, lookup(err, "process", processID)
	}
	return e.Repo.ListSteps(ctx, nil, processID, activeOnly)
}

// UpdateStep changes a step. Deactivating a step removes it from coverage for later
// completions; orders already completed keep their status.
func (e Engine) UpdateStep(ctx context.Context, actor Actor, id string, patch StepPatch) (domain.ProcessStep, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessStep{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStep(ctx, tx, id)
	if err != nil {
		return domain.ProcessStep{}, lookup(err, "step", id)
	}
	if patch.Code != nil {
		code := strings.TrimSpace(*patch.Code)
		if code == "" {
			return domain.ProcessStep{}, invalidInput("code is required")
		}
		if err := e.uniqueStepCode(ctx, tx, code, id); err != nil {
			return domain.ProcessStep{}, err
		}
		s.Code = code
	}
	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return domain.ProcessStep{}, invalidInput("name is required")
		}
		s.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Order != nil {
		s.Order = *patch.Order
	}
	if patch.IsActive != nil {
		s.IsActive = *patch.IsActive
	}
	s.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateStep(ctx, tx, s); err != nil {
		return domain.ProcessStep{}, err
	}
	if err := e.append(ctx, tx, actor, "step.updated", events.KindStep, s.ID, events.EventPayload{
		"code": s.Code, "order": s.Order, "is_active": s.IsActive,
	}); err != nil {
		return domain.ProcessStep{}, err
	}
	return s, tx.Commit()
}

// DeleteStep removes a step that no report references.
func (e Engine) DeleteStep(ctx context.Context, actor Actor, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetStep(ctx, tx, id)
	if err != nil {
		return lookup(err, "step", id)
	}
	used, err := e.Repo.StepHasReports(ctx, tx, id)
	if err != nil {
		return err
	}
	if used {
		return newError(ErrProtected, map[string]any{"step_id": id}, "step %s has production reports", s.Code)
	}
	if err := e.Repo.DeleteStep(ctx, tx, id); err != nil {
		return lookup(err, "step", id)
	}
	if err := e.append(ctx, tx, actor, "step.deleted", events.KindStep, id, events.EventPayload{"code": s.Code, "process_id": s.ProcessID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) uniqueStepCode(ctx context.Context, tx *sql.Tx, code, exceptID string) error {
	taken, err := e.Repo.StepCodeTaken(ctx, tx, code, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return newError(ErrConflict, map[string]any{"code": code}, "step %s already exists", code)
	}
	return nil
}
