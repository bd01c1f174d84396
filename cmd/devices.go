package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/service"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices [direction]",
	Short: "List available playout and recording devices",
	Long: `List the devices the audio engine currently enumerates, with the ordinal
and stable id accepted by 'devswitch switch'. Ordinals are only valid until
the device list changes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := directionsFromArgs(args)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		svc, err := newOneShotService()
		if err != nil {
			return err
		}
		defer svc.Close()

		listing := make(map[string][]audio.Device)
		for _, dir := range dirs {
			devices, err := svc.ListDevices(dir)
			if err != nil {
				return fmt.Errorf("failed to list %s devices: %w", dir, err)
			}
			listing[dir.String()] = devices
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(listing)
		}

		fmt.Printf("Audio devices (%s engine)\n", svc.GetStatus().Engine)
		fmt.Printf("═══════════════════════════════════════\n")
		for _, dir := range dirs {
			devices := listing[dir.String()]
			fmt.Printf("\n%s (%d found):\n", dir, len(devices))

			defaultID := ""
			if ep, err := svc.DefaultEndpoint(dir); err == nil {
				defaultID = ep.ID
			}
			for _, d := range devices {
				marker := " "
				if d.ID == defaultID {
					marker = "*"
				}
				fmt.Printf(" %s #%d  %s\n      id: %s\n", marker, d.Ordinal, d.Name, d.ID)
			}
		}

		fmt.Printf("\nUsage:\n")
		fmt.Printf("  • devswitch switch playout '#1'      select by ordinal\n")
		fmt.Printf("  • devswitch switch recording <id>    select by stable id\n")
		fmt.Printf("  • devswitch switch playout default   default communication device\n")
		return nil
	},
}

func init() {
	devicesCmd.Flags().Bool("json", false, "print the device list as JSON")
}

// directionsFromArgs returns the direction named in args, or both.
func directionsFromArgs(args []string) ([]audio.Direction, error) {
	if len(args) == 0 {
		return audio.Directions, nil
	}
	dir, err := audio.ParseDirection(args[0])
	if err != nil {
		return nil, err
	}
	return []audio.Direction{dir}, nil
}

// newOneShotService creates a service for a single command, without the
// notification listener or metrics.
func newOneShotService() (service.Service, error) {
	c := *cfg
	disabled := false
	c.Listener.Enabled = &disabled
	c.Server.Metrics = &disabled

	svc, err := service.New(&c, service.Options{Logger: slog.Default()})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}
