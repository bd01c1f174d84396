package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/devswitch/internal/service"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow device notifications and switch on default changes",
	Long: `Register for device notifications and print every event. Console default
device changes switch the engine, unless --dry-run is given, in which case
the switch that would happen is only logged.

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		asJSON, _ := cmd.Flags().GetBool("json")

		c := *cfg
		enabled := true
		c.Listener.Enabled = &enabled
		c.Server.Metrics = new(bool)

		svc, err := service.New(&c, service.Options{Logger: slog.Default(), DryRun: dryRun})
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		if st := svc.GetStatus(); st.Listener.Disabled {
			return fmt.Errorf("device notifications unavailable: %s", st.LastError)
		}

		enc := json.NewEncoder(os.Stdout)
		cancel := svc.Subscribe(func(ev service.Event) {
			if asJSON {
				enc.Encode(ev)
				return
			}
			printEvent(ev)
		})
		defer cancel()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		slog.Info("Watching device notifications - Press Ctrl+C to stop", "dry_run", dryRun)
		<-ctx.Done()
		slog.Info("Stopping...")
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("dry-run", false, "log switches instead of performing them")
	watchCmd.Flags().Bool("json", false, "print events as JSON lines")
}

func printEvent(ev service.Event) {
	switch {
	case ev.Notification != nil:
		n := ev.Notification
		line := fmt.Sprintf("%s  %-16s %s", n.Time.Format("15:04:05.000"), n.Kind, n.DeviceID)
		if n.Direction != "" {
			line += fmt.Sprintf(" direction=%s role=%s", n.Direction, n.Role)
		}
		if n.State != "" {
			line += " state=" + n.State
		}
		if n.Property != "" {
			line += " property=" + n.Property
		}
		if n.IntentID != "" {
			line += " intent=" + n.IntentID
		}
		fmt.Println(line)

	case ev.Switch != nil:
		s := ev.Switch
		fmt.Printf("%s  %-16s %s -> %s outcome=%s state=%s device=%q took=%dms\n",
			s.Time.Format("15:04:05.000"), "switch", s.Direction, s.Target, s.Outcome, s.State, s.Device.Name, s.TookMS)
		if s.Error != "" {
			fmt.Printf("%14s error: %s\n", "", s.Error)
		}
	}
}
