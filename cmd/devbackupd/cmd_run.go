package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/andrej220/devbackup/internal/lg"
	"github.com/andrej220/devbackup/pkg/models"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task in the foreground and print its outcome",
	}
	kinds := []struct {
		use   string
		short string
		typ   models.TaskType
	}{
		{"node", "Run a node task on its devices", models.TaskNode},
		{"discovery", "Sweep the discovery networks", models.TaskDiscovery},
		{"system", "Run a backend system task", models.TaskSystem},
		{"console", "Start a backend console command", models.TaskConsole},
	}
	for _, k := range kinds {
		cmd.AddCommand(newRunKindCmd(k.use, k.short, k.typ))
	}
	return cmd
}

func newRunKindCmd(use, short string, typ models.TaskType) *cobra.Command {
	var req models.RunRequest
	cmd := &cobra.Command{
		Use:   use + " --task <name>",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req.TaskType = typ
			req.RunID = uuid.New()
			ctx := lg.Attach(cmd.Context(), a.log)
			out, err := a.service.Execute(ctx, req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Success {
				return fmt.Errorf("task %s finished with %d failed of %d", out.TaskName, out.Failed, out.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.TaskName, "task", "t", "", "task name (required)")
	cmd.Flags().StringVar(&req.ScheduleID, "schedule", "", "schedule id")
	if typ == models.TaskNode {
		cmd.Flags().StringVar(&req.RunOnNode, "node", "", "run on this node only")
	}
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
