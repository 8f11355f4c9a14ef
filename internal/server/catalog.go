package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"prodline/internal/domain"
	"prodline/internal/engine"
)

type bodyOutput[T any] struct {
	Body T `json:"body"`
}

func reply[T any](v T) *bodyOutput[T] {
	return &bodyOutput[T]{Body: v}
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerWorkshops(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workshop",
		Method:        http.MethodPost,
		Path:          "/workshops",
		Summary:       "Create workshop",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateWorkshopRequest `json:"body"`
	}) (*bodyOutput[domain.Workshop], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorkshop(ctx, actor, input.Body.Name, orDefault(input.Body.IsActive, true))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workshops",
		Method:      http.MethodGet,
		Path:        "/workshops",
		Summary:     "List workshops",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Active string `query:"active" enum:"true,false"`
	}) (*bodyOutput[[]domain.Workshop], error) {
		active, perr := parseBool("active", input.Active)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListWorkshops(ctx, active)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Workshop{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workshop",
		Method:      http.MethodGet,
		Path:        "/workshops/{workshop_id}",
		Summary:     "Get workshop",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*bodyOutput[domain.Workshop], error) {
		w, err := e.GetWorkshop(ctx, input.WorkshopID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-workshop",
		Method:      http.MethodPatch,
		Path:        "/workshops/{workshop_id}",
		Summary:     "Update workshop",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkshopID string                `path:"workshop_id"`
		Body       UpdateWorkshopRequest `json:"body"`
	}) (*bodyOutput[domain.Workshop], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.UpdateWorkshop(ctx, actor, input.WorkshopID, engine.WorkshopPatch{Name: input.Body.Name, IsActive: input.Body.IsActive})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(w), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-workshop",
		Method:        http.MethodDelete,
		Path:          "/workshops/{workshop_id}",
		Summary:       "Delete workshop",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		WorkshopID string `path:"workshop_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkshop(ctx, actor, input.WorkshopID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*bodyOutput[domain.Process], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProcess(ctx, actor, input.Body.Code, input.Body.Name, orDefault(input.Body.IsActive, true))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Active string `query:"active" enum:"true,false"`
	}) (*bodyOutput[[]domain.Process], error) {
		active, perr := parseBool("active", input.Active)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListProcesses(ctx, active)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Process{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}",
		Summary:     "Get process with its steps",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*bodyOutput[domain.Process], error) {
		p, err := e.GetProcess(ctx, input.ProcessID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-process",
		Method:      http.MethodPatch,
		Path:        "/processes/{process_id}",
		Summary:     "Update process",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string               `path:"process_id"`
		Body      UpdateProcessRequest `json:"body"`
	}) (*bodyOutput[domain.Process], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProcess(ctx, actor, input.ProcessID, engine.ProcessPatch{
			Code: input.Body.Code, Name: input.Body.Name, IsActive: input.Body.IsActive,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-process",
		Method:        http.MethodDelete,
		Path:          "/processes/{process_id}",
		Summary:       "Delete process",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProcess(ctx, actor, input.ProcessID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerSteps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-step",
		Method:        http.MethodPost,
		Path:          "/processes/{process_id}/steps",
		Summary:       "Add a step to a process",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProcessID string            `path:"process_id"`
		Body      CreateStepRequest `json:"body"`
	}) (*bodyOutput[domain.ProcessStep], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStep(ctx, actor, engine.StepInput{
			ProcessID: input.ProcessID,
			Code:      input.Body.Code,
			Name:      input.Body.Name,
			Order:     input.Body.Order,
			IsActive:  input.Body.IsActive,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-steps",
		Method:      http.MethodGet,
		Path:        "/processes/{process_id}/steps",
		Summary:     "List the steps of a process in execution order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProcessID  string `path:"process_id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*bodyOutput[[]domain.ProcessStep], error) {
		items, err := e.ListSteps(ctx, input.ProcessID, input.ActiveOnly)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.ProcessStep{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-step",
		Method:      http.MethodGet,
		Path:        "/steps/{step_id}",
		Summary:     "Get step",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		StepID string `path:"step_id"`
	}) (*bodyOutput[domain.ProcessStep], error) {
		s, err := e.GetStep(ctx, input.StepID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-step",
		Method:      http.MethodPatch,
		Path:        "/steps/{step_id}",
		Summary:     "Update step",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		StepID string            `path:"step_id"`
		Body   UpdateStepRequest `json:"body"`
	}) (*bodyOutput[domain.ProcessStep], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateStep(ctx, actor, input.StepID, engine.StepPatch{
			Code: input.Body.Code, Name: input.Body.Name, Order: input.Body.Order, IsActive: input.Body.IsActive,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-step",
		Method:        http.MethodDelete,
		Path:          "/steps/{step_id}",
		Summary:       "Delete step",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		StepID string `path:"step_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteStep(ctx, actor, input.StepID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}
