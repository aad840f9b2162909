package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

type captureFlags struct {
	device      string
	frames      int
	out         string
	metricsAddr string
}

func newCaptureCommand(c *cli) *cobra.Command {
	f := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Stream frames from a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.device == "" {
				return fmt.Errorf("--device is required")
			}
			if f.frames < 0 {
				return fmt.Errorf("--frames must not be negative")
			}

			a, stop, err := c.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			ctx := a.Context()

			if f.metricsAddr != "" {
				srv := &http.Server{Addr: f.metricsAddr, Handler: a.Metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.Logger.Error("CLI", "metrics server failed", err, map[string]interface{}{"addr": f.metricsAddr})
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			if f.out != "" {
				if err := os.MkdirAll(f.out, 0o755); err != nil {
					return fmt.Errorf("create output dir: %w", err)
				}
			}

			if err := a.Devices.ConnectDevice(ctx, f.device); err != nil {
				return err
			}
			frames, err := a.Devices.StartContinuousCapture(ctx, f.device)
			if err != nil {
				return err
			}
			defer a.Devices.StopContinuousCapture(f.device)

			out := cmd.OutOrStdout()
			received, failed := 0, 0
			for f.frames == 0 || received < f.frames {
				frame, ok := <-frames
				if !ok {
					break
				}
				received++
				if frame.Err != nil {
					failed++
					fmt.Fprintln(out, warnStyle.Render(fmt.Sprintf("#%d %v", frame.Seq, frame.Err)))
					continue
				}
				line := fmt.Sprintf("#%d %dx%d", frame.Seq, frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy())
				if f.out != "" {
					path := filepath.Join(f.out, fmt.Sprintf("%s-%06d.png", f.device, frame.Seq))
					if err := imaging.Save(frame.Image, path); err != nil {
						return fmt.Errorf("save frame %d: %w", frame.Seq, err)
					}
					line += " " + dimStyle.Render(path)
				}
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d frame(s), %d failed", received, failed)))
			return nil
		},
	}

	cmd.Flags().StringVar(&f.device, "device", "", "device id to capture from")
	cmd.Flags().IntVar(&f.frames, "frames", 10, "number of frames, 0 until interrupted")
	cmd.Flags().StringVar(&f.out, "out", "", "write frames to this directory as PNG")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
