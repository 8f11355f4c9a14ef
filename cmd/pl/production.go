package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/repo"
)

func orderCmd() *cobra.Command {
	o := &cobra.Command{
		Use:   "order",
		Short: "Manage production orders",
		Long:  "Order status is derived from completed reports; use cancel to stop an order.",
	}
	o.AddCommand(orderCreateCmd())
	o.AddCommand(orderListCmd())
	o.AddCommand(orderShowCmd())
	o.AddCommand(orderUpdateCmd())
	o.AddCommand(orderCancelCmd())
	o.AddCommand(orderDeleteCmd())
	o.AddCommand(orderProgressCmd())
	return o
}

func orderCreateCmd() *cobra.Command {
	var in engine.OrderInput
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOrder(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&in.OrderNumber, "number", "", "unique order number")
	cmd.Flags().StringVar(&in.ProductionNumber, "production-number", "", "production number")
	cmd.Flags().StringVar(&in.ProductName, "product", "", "product name")
	cmd.Flags().StringVar(&in.OrderDate, "date", "", "order date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&in.PlannedStartDate, "start", "", "planned start date YYYY-MM-DD")
	cmd.Flags().StringVar(&in.PlannedEndDate, "end", "", "planned end date YYYY-MM-DD")
	cmd.Flags().StringVar(&in.ProcessID, "process", "", "process id")
	cmd.Flags().StringVar(&in.WorkshopID, "workshop", "", "workshop id")
	for _, f := range []string{"number", "production-number", "product", "start", "end", "process", "workshop"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func orderListCmd() *cobra.Command {
	var f repo.OrderFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				orders, err := e.ListOrders(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(orders)
				}
				tw := newTable(table.Row{"ID", "Number", "Product", "Status", "Planned", "Process", "Workshop"})
				for _, o := range orders {
					tw.AppendRow(table.Row{o.ID, o.OrderNumber, o.ProductName, o.Status,
						o.PlannedStartDate + " .. " + o.PlannedEndDate, o.ProcessID, o.WorkshopID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "pending|in_progress|completed|canceled")
	cmd.Flags().StringVar(&f.WorkshopID, "workshop", "", "workshop id")
	cmd.Flags().StringVar(&f.ProcessID, "process", "", "process id")
	cmd.Flags().StringVar(&f.OrderNumber, "number", "", "order number")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func orderShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.GetOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func orderUpdateCmd() *cobra.Command {
	var number, productionNumber, product, date, start, end, workshop string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update order details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.OrderPatch{
				OrderNumber:      optionalString(cmd, "number", number),
				ProductionNumber: optionalString(cmd, "production-number", productionNumber),
				ProductName:      optionalString(cmd, "product", product),
				OrderDate:        optionalString(cmd, "date", date),
				PlannedStartDate: optionalString(cmd, "start", start),
				PlannedEndDate:   optionalString(cmd, "end", end),
				WorkshopID:       optionalString(cmd, "workshop", workshop),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateOrder(ctx, actor(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "order number")
	cmd.Flags().StringVar(&productionNumber, "production-number", "", "production number")
	cmd.Flags().StringVar(&product, "product", "", "product name")
	cmd.Flags().StringVar(&date, "date", "", "order date YYYY-MM-DD")
	cmd.Flags().StringVar(&start, "start", "", "planned start date YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "planned end date YYYY-MM-DD")
	cmd.Flags().StringVar(&workshop, "workshop", "", "workshop id")
	return cmd
}

func orderCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or in-progress order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CancelOrder(ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
}

func orderDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an order without completed reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteOrder(ctx, actor(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func orderProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Show step coverage of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.OrderProgress(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("order %s: %s (%d/%d steps covered)\n", p.OrderID, p.Status, len(p.Covered), len(p.Steps))
				tw := newTable(table.Row{"#", "Step", "Name", "Covered", "Reports", "Open", "Time"})
				for _, s := range p.Steps {
					total := s.TotalTime
					tw.AppendRow(table.Row{s.Order, s.Code, s.Name, s.Covered, s.Reports, s.OpenReports, formatDuration(&total)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "report",
		Short: "Record production reports",
		Long: `A report is one operator working one step of one order.
start -> (pause -> resume) -> complete. Completing computes the total time and seals the report.`,
	}
	r.AddCommand(reportStartCmd())
	r.AddCommand(reportListCmd())
	r.AddCommand(reportShowCmd())
	r.AddCommand(reportTransitionCmd("pause", "Pause an open report", engine.Engine.PauseReport))
	r.AddCommand(reportTransitionCmd("resume", "Resume a paused report", engine.Engine.ResumeReport))
	r.AddCommand(reportCompleteCmd())
	r.AddCommand(reportEditCmd())
	r.AddCommand(reportDeleteCmd())
	return r
}

func reportStartCmd() *cobra.Command {
	var orderID, stepID, at string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a report on an order step",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			in := engine.CreateReportInput{OrderID: orderID, StepID: stepID}
			if start != nil {
				in.StartTime = *start
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.CreateReport(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printReport(rep)
			})
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "order id")
	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	cmd.Flags().StringVar(&at, "at", "", "start time RFC 3339 (default now)")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	var completed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Completed = optionalBool(cmd, "completed", completed)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reports, err := e.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := newTable(table.Row{"ID", "Order", "Step", "Start", "Paused", "Resumed", "End", "Total", "Creator"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.ID, r.OrderID, r.StepID, stamp(&r.StartTime), stamp(r.PauseTime),
						stamp(r.ResumeTime), stamp(r.EndTime), formatDuration(r.TotalTime), r.CreatorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrderID, "order", "", "order id")
	cmd.Flags().StringVar(&f.StepID, "step", "", "step id")
	cmd.Flags().StringVar(&f.CreatorID, "creator", "", "creator id")
	cmd.Flags().BoolVar(&completed, "completed", false, "only completed (true) or open (false) reports")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.GetReport(ctx, args[0])
				if err != nil {
					return err
				}
				return printReport(rep)
			})
		},
	}
}

type reportAction func(engine.Engine, context.Context, engine.Actor, string) (domain.ProductionReport, error)

func reportTransitionCmd(use, short string, action reportAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := action(e, ctx, actor(), args[0])
				if err != nil {
					return err
				}
				return printReport(rep)
			})
		},
	}
}

func reportCompleteCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a report and roll up its order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parseTimeFlag("at", at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.CompleteReport(ctx, actor(), args[0], end)
				if err != nil {
					return err
				}
				return printReport(rep)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "end time RFC 3339 (default now)")
	return cmd
}

func reportEditCmd() *cobra.Command {
	var in engine.EditReportInput
	var start, pause, resume, end string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Correct an open report",
		Long:  "Setting --end completes the report the same way 'report complete' does.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			for _, f := range []struct {
				name string
				raw  string
				dst  **time.Time
			}{
				{"start", start, &in.StartTime},
				{"pause", pause, &in.PauseTime},
				{"resume", resume, &in.ResumeTime},
				{"end", end, &in.EndTime},
			} {
				if *f.dst, err = parseTimeFlag(f.name, f.raw); err != nil {
					return err
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.EditReport(ctx, actor(), args[0], in)
				if err != nil {
					return err
				}
				return printReport(rep)
			})
		},
	}
	cmd.Flags().StringVar(&in.OrderID, "order", "", "move to order id")
	cmd.Flags().StringVar(&in.StepID, "step", "", "move to step id")
	cmd.Flags().StringVar(&start, "start", "", "start time RFC 3339")
	cmd.Flags().StringVar(&pause, "pause", "", "pause time RFC 3339")
	cmd.Flags().StringVar(&resume, "resume", "", "resume time RFC 3339")
	cmd.Flags().StringVar(&end, "end", "", "end time RFC 3339")
	return cmd
}

func reportDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an open report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteReport(ctx, actor(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

type reportView struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	StepID     string `json:"step_id"`
	StartTime  string `json:"start_time"`
	PauseTime  string `json:"pause_time,omitempty"`
	ResumeTime string `json:"resume_time,omitempty"`
	EndTime    string `json:"end_time,omitempty"`
	TotalTime  string `json:"total_time,omitempty"`
	CreatorID  string `json:"creator_id"`
	Completed  bool   `json:"completed"`
}

func printReport(rep domain.ProductionReport) error {
	return printJSONOrTable(reportView{
		ID:         rep.ID,
		OrderID:    rep.OrderID,
		StepID:     rep.StepID,
		StartTime:  stamp(&rep.StartTime),
		PauseTime:  stamp(rep.PauseTime),
		ResumeTime: stamp(rep.ResumeTime),
		EndTime:    stamp(rep.EndTime),
		TotalTime:  formatDuration(rep.TotalTime),
		CreatorID:  rep.CreatorID,
		Completed:  rep.Sealed(),
	})
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
