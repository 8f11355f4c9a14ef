package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/repo"
)

func registerOrders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create production order",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*bodyOutput[domain.ProductionOrder], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		o, err := e.CreateOrder(ctx, actor, engine.OrderInput{
			OrderNumber:      b.OrderNumber,
			ProductionNumber: b.ProductionNumber,
			ProductName:      b.ProductName,
			OrderDate:        b.OrderDate,
			PlannedStartDate: b.PlannedStartDate,
			PlannedEndDate:   b.PlannedEndDate,
			ProcessID:        b.ProcessID,
			WorkshopID:       b.WorkshopID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List production orders, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status" enum:"pending,in_progress,completed,canceled"`
		WorkshopID  string `query:"workshop_id"`
		ProcessID   string `query:"process_id"`
		OrderNumber string `query:"order_number" doc:"Substring of the order number"`
		Limit       int    `query:"limit" default:"50"`
	}) (*bodyOutput[[]domain.ProductionOrder], error) {
		items, err := e.ListOrders(ctx, repo.OrderFilters{
			Status:      input.Status,
			WorkshopID:  input.WorkshopID,
			ProcessID:   input.ProcessID,
			OrderNumber: input.OrderNumber,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.ProductionOrder{}
		}
		return reply(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}",
		Summary:     "Get production order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*bodyOutput[domain.ProductionOrder], error) {
		o, err := e.GetOrder(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPatch,
		Path:        "/orders/{order_id}",
		Summary:     "Update the descriptive fields of an order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OrderID string             `path:"order_id"`
		Body    UpdateOrderRequest `json:"body"`
	}) (*bodyOutput[domain.ProductionOrder], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		o, err := e.UpdateOrder(ctx, actor, input.OrderID, engine.OrderPatch{
			OrderNumber:      b.OrderNumber,
			ProductionNumber: b.ProductionNumber,
			ProductName:      b.ProductName,
			OrderDate:        b.OrderDate,
			PlannedStartDate: b.PlannedStartDate,
			PlannedEndDate:   b.PlannedEndDate,
			WorkshopID:       b.WorkshopID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-order",
		Method:        http.MethodDelete,
		Path:          "/orders/{order_id}",
		Summary:       "Delete production order",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteOrder(ctx, actor, input.OrderID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-order",
		Method:      http.MethodPost,
		Path:        "/orders/{order_id}/cancel",
		Summary:     "Cancel a pending or in-progress order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*bodyOutput[domain.ProductionOrder], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CancelOrder(ctx, actor, input.OrderID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "order-progress",
		Method:      http.MethodGet,
		Path:        "/orders/{order_id}/progress",
		Summary:     "Step coverage of an order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrderID string `path:"order_id"`
	}) (*bodyOutput[OrderProgressResponse], error) {
		p, err := e.OrderProgress(ctx, input.OrderID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(progressResponse(p)), nil
	})
}
