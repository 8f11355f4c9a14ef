package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/repo"
)

type reportPath struct {
	ReportID string `path:"report_id"`
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Start a production report",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*bodyOutput[ReportResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := engine.CreateReportInput{OrderID: input.Body.OrderID, StepID: input.Body.StepID}
		if input.Body.StartTime != nil {
			in.StartTime = *input.Body.StartTime
		}
		rep, err := e.CreateReport(ctx, actor, in)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(reportResponse(rep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List production reports, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrderID   string `query:"order_id"`
		StepID    string `query:"step_id"`
		CreatorID string `query:"creator_id"`
		Completed string `query:"completed" enum:"true,false"`
		Limit     int    `query:"limit" default:"50"`
	}) (*bodyOutput[[]ReportResponse], error) {
		completed, perr := parseBool("completed", input.Completed)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListReports(ctx, repo.ReportFilters{
			OrderID:   input.OrderID,
			StepID:    input.StepID,
			CreatorID: input.CreatorID,
			Completed: completed,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(mapReports(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get production report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *reportPath) (*bodyOutput[ReportResponse], error) {
		rep, err := e.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(reportResponse(rep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-report",
		Method:      http.MethodPatch,
		Path:        "/reports/{report_id}",
		Summary:     "Edit an open production report",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string            `path:"report_id"`
		Body     EditReportRequest `json:"body"`
	}) (*bodyOutput[ReportResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		rep, err := e.EditReport(ctx, actor, input.ReportID, engine.EditReportInput{
			OrderID:    b.OrderID,
			StepID:     b.StepID,
			StartTime:  b.StartTime,
			PauseTime:  b.PauseTime,
			ResumeTime: b.ResumeTime,
			EndTime:    b.EndTime,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(reportResponse(rep)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-report",
		Method:        http.MethodDelete,
		Path:          "/reports/{report_id}",
		Summary:       "Delete an open production report",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *reportPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteReport(ctx, actor, input.ReportID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	registerReportAction(api, "pause", "Pause a running report", e.PauseReport)
	registerReportAction(api, "resume", "Resume a paused report", e.ResumeReport)

	huma.Register(api, huma.Operation{
		OperationID: "complete-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/complete",
		Summary:     "Complete a report and roll up its order",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ReportID string                 `path:"report_id"`
		Body     *CompleteReportRequest `json:"body,omitempty" required:"false"`
	}) (*bodyOutput[ReportResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var end *time.Time
		if input.Body != nil {
			end = input.Body.EndTime
		}
		rep, err := e.CompleteReport(ctx, actor, input.ReportID, end)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(reportResponse(rep)), nil
	})
}

func registerReportAction(api huma.API, name, summary string, action func(context.Context, engine.Actor, string) (domain.ProductionReport, error)) {
	huma.Register(api, huma.Operation{
		OperationID: name + "-report",
		Method:      http.MethodPost,
		Path:        "/reports/{report_id}/" + name,
		Summary:     summary,
		Errors:      writeErrors,
	}, func(ctx context.Context, input *reportPath) (*bodyOutput[ReportResponse], error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := action(ctx, actor, input.ReportID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return reply(reportResponse(rep)), nil
	})
}
