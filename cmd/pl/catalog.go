package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prodline/internal/domain"
	"prodline/internal/engine"
)

func workshopCmd() *cobra.Command {
	ws := &cobra.Command{
		Use:   "workshop",
		Short: "Manage workshops",
	}
	ws.AddCommand(workshopCreateCmd())
	ws.AddCommand(workshopListCmd())
	ws.AddCommand(workshopUpdateCmd())
	ws.AddCommand(workshopDeleteCmd())
	return ws
}

func workshopCreateCmd() *cobra.Command {
	var name string
	var active bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workshop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.CreateWorkshop(ctx, actor(), name, active)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workshop name")
	cmd.Flags().BoolVar(&active, "active", true, "workshop is active")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func workshopListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workshops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorkshops(ctx, optionalBool(cmd, "active", active))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Active", "Updated"})
				for _, w := range items {
					tw.AppendRow(table.Row{w.ID, w.Name, w.IsActive, w.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "filter by active flag")
	return cmd
}

func workshopUpdateCmd() *cobra.Command {
	var name string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a workshop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				w, err := e.UpdateWorkshop(ctx, actor(), args[0], engine.WorkshopPatch{
					Name:     optionalString(cmd, "name", name),
					IsActive: optionalBool(cmd, "active", active),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workshop name")
	cmd.Flags().BoolVar(&active, "active", true, "workshop is active")
	return cmd
}

func workshopDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workshop without orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteWorkshop(ctx, actor(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func processCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "process",
		Short: "Manage processes",
		Long:  "A process is the ordered list of steps every order of a product must pass.",
	}
	p.AddCommand(processCreateCmd())
	p.AddCommand(processListCmd())
	p.AddCommand(processShowCmd())
	p.AddCommand(processUpdateCmd())
	p.AddCommand(processDeleteCmd())
	return p
}

func processCreateCmd() *cobra.Command {
	var code, name string
	var active bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProcess(ctx, actor(), code, name, active)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "unique process code")
	cmd.Flags().StringVar(&name, "name", "", "process name")
	cmd.Flags().BoolVar(&active, "active", true, "process is active")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func processListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProcesses(ctx, optionalBool(cmd, "active", active))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Code", "Name", "Active", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Code, p.Name, p.IsActive, p.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "filter by active flag")
	return cmd
}

func processShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a process with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProcess(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s  %s  (active=%t)\n", p.Code, p.Name, p.IsActive)
				renderSteps(p.Steps)
				return nil
			})
		},
	}
}

func processUpdateCmd() *cobra.Command {
	var code, name string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProcess(ctx, actor(), args[0], engine.ProcessPatch{
					Code:     optionalString(cmd, "code", code),
					Name:     optionalString(cmd, "name", name),
					IsActive: optionalBool(cmd, "active", active),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "unique process code")
	cmd.Flags().StringVar(&name, "name", "", "process name")
	cmd.Flags().BoolVar(&active, "active", true, "process is active")
	return cmd
}

func processDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a process without orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteProcess(ctx, actor(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func stepCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "step",
		Short: "Manage process steps",
		Long:  "Only active steps count toward order completion.",
	}
	s.AddCommand(stepAddCmd())
	s.AddCommand(stepListCmd())
	s.AddCommand(stepUpdateCmd())
	s.AddCommand(stepDeleteCmd())
	return s
}

func stepAddCmd() *cobra.Command {
	var in engine.StepInput
	var active bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a step to a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.IsActive = optionalBool(cmd, "active", active)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStep(ctx, actor(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&in.ProcessID, "process", "", "process id")
	cmd.Flags().StringVar(&in.Code, "code", "", "unique step code")
	cmd.Flags().StringVar(&in.Name, "name", "", "step name")
	cmd.Flags().IntVar(&in.Order, "order", 0, "position in the process")
	cmd.Flags().BoolVar(&active, "active", true, "step is active")
	_ = cmd.MarkFlagRequired("process")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func stepListCmd() *cobra.Command {
	var processID string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the steps of a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				steps, err := e.ListSteps(ctx, processID, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(steps)
				}
				renderSteps(steps)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&processID, "process", "", "process id")
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "only active steps")
	_ = cmd.MarkFlagRequired("process")
	return cmd
}

func stepUpdateCmd() *cobra.Command {
	var code, name string
	var order int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := engine.StepPatch{
				Code:     optionalString(cmd, "code", code),
				Name:     optionalString(cmd, "name", name),
				IsActive: optionalBool(cmd, "active", active),
			}
			if cmd.Flags().Changed("order") {
				patch.Order = &order
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateStep(ctx, actor(), args[0], patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "unique step code")
	cmd.Flags().StringVar(&name, "name", "", "step name")
	cmd.Flags().IntVar(&order, "order", 0, "position in the process")
	cmd.Flags().BoolVar(&active, "active", true, "step is active")
	return cmd
}

func stepDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a step without reports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteStep(ctx, actor(), args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func renderSteps(steps []domain.ProcessStep) {
	tw := newTable(table.Row{"#", "ID", "Code", "Name", "Active"})
	for _, s := range steps {
		tw.AppendRow(table.Row{s.Order, s.ID, s.Code, s.Name, s.IsActive})
	}
	tw.Render()
}
