package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"vision-workbench/internal/app"
	verrors "vision-workbench/internal/errors"
	"vision-workbench/internal/workflow"
)

type runFlags struct {
	image   string
	device  string
	out     string
	timeout time.Duration
	save    bool
}

func newRunCommand(c *cli) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow document",
		Long: `Execute a workflow document once.

The seed image comes from --image, from one capture of --device, or from
the devices named by the workflow's Start nodes. Parameters saved with
--save-params are applied to later runs beneath the document's own node
parameters.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.image != "" && f.device != "" {
				return fmt.Errorf("--image and --device are mutually exclusive")
			}

			a, stop, err := c.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			ctx, cancel := context.WithTimeout(a.Context(), f.timeout)
			defer cancel()

			w, err := loadWorkflow(a, args[0])
			if err != nil {
				return err
			}
			seed, err := seedImage(ctx, a, w, f)
			if err != nil {
				return err
			}

			res, err := a.Engine.ExecuteWorkflow(ctx, w.ID, seed)
			if err != nil {
				return err
			}
			if f.out != "" {
				if err := saveOutputs(res, f.out); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderResult(res))

			if f.save {
				n, err := a.Engine.SaveParameters(w.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(
					fmt.Sprintf("saved parameters of %d node(s) to %s", n, a.Parameters.Dir())))
			}

			if failed := res.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d node(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.image, "image", "", "seed image file")
	cmd.Flags().StringVar(&f.device, "device", "", "capture the seed image from this device")
	cmd.Flags().StringVar(&f.out, "out", "", "write every image output to this directory as PNG")
	cmd.Flags().DurationVar(&f.timeout, "timeout", time.Minute, "abort the run after this long")
	cmd.Flags().BoolVar(&f.save, "save-params", false, "persist each algorithm node's effective parameters")
	return cmd
}

// loadWorkflow builds the document at path, replacing any workflow with the
// same id loaded from the workflow directory.
func loadWorkflow(a *app.Application, path string) (*workflow.Workflow, error) {
	w, err := a.Engine.LoadWorkflow(path)
	if !verrors.Is(err, verrors.ErrDuplicate) {
		return w, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := workflow.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if err := a.Engine.DeleteWorkflow(doc.ID); err != nil {
		return nil, err
	}
	return a.Engine.Build(doc)
}

func seedImage(ctx context.Context, a *app.Application, w *workflow.Workflow, f *runFlags) (image.Image, error) {
	switch {
	case f.image != "":
		img, err := imaging.Open(f.image, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("open seed image: %w", err)
		}
		return img, nil
	case f.device != "":
		if err := a.Devices.ConnectDevice(ctx, f.device); err != nil {
			return nil, err
		}
		return a.Devices.CaptureImage(ctx, f.device)
	}

	for _, n := range w.Nodes() {
		if n.Type == workflow.NodeStart && n.DeviceID != "" {
			if err := a.Devices.ConnectDevice(ctx, n.DeviceID); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

func saveOutputs(res *workflow.ExecutionResult, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, id := range res.Order {
		img, ok := res.Results[id].Image()
		if !ok || res.Results[id].Failed() {
			continue
		}
		if err := imaging.Save(img, filepath.Join(dir, id+".png")); err != nil {
			return fmt.Errorf("save %s: %w", id, err)
		}
	}
	return nil
}

func renderResult(res *workflow.ExecutionResult) string {
	var rows [][]string
	for _, id := range res.Order {
		r := res.Results[id]
		status := okStyle.Render(string(r.Status))
		value := ""
		switch {
		case r.Failed():
			status = errorStyle.Render(string(r.Status))
			value = r.Err.Error()
		case r.Status == workflow.StatusBypassed:
			status = dimStyle.Render(string(r.Status))
		}
		if value == "" {
			value = describeOutput(r.Output)
		}
		if r.Branch != "" {
			value = "branch " + r.Branch
		}
		rows = append(rows, []string{id, string(r.Type), status, r.Duration.Round(time.Microsecond).String(), value})
	}

	header := titleStyle.Render(fmt.Sprintf("workflow %s", res.WorkflowID)) + dimStyle.Render(
		fmt.Sprintf("  run %s in %s", res.ID, res.Duration.Round(time.Millisecond)))
	if res.Cancelled {
		header += " " + warnStyle.Render("cancelled")
	}
	return header + "\n" + table([]string{"NODE", "TYPE", "STATUS", "TIME", "OUTPUT"}, rows)
}

func describeOutput(v any) string {
	switch o := v.(type) {
	case nil:
		return ""
	case image.Image:
		return fmt.Sprintf("image %dx%d", o.Bounds().Dx(), o.Bounds().Dy())
	case float64:
		return fmt.Sprintf("%.3f", o)
	case string:
		if len(o) > 60 {
			return fmt.Sprintf("%q...", o[:60])
		}
		return fmt.Sprintf("%q", o)
	default:
		return fmt.Sprintf("%v", o)
	}
}
