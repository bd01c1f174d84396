package cmd

import (
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/devswitch/internal/audio"
	"github.com/audiolibrelab/devswitch/internal/service"
	"github.com/audiolibrelab/devswitch/internal/switcher"

	"github.com/spf13/cobra"
)

var switchCmd = &cobra.Command{
	Use:   "switch <direction> <target>",
	Short: "Switch the active playout or recording device",
	Long: `Switch the device used for a direction. Target is one of:

  default      the default communication device ("" works too)
  #<n>         the device at ordinal n of the current enumeration
  <id>         the device with this stable id

A target that matches nothing falls back to the default communication
device. With --index the ordinal is selected directly and no fallback
happens.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := audio.ParseDirection(args[0])
		if err != nil {
			return err
		}
		index, _ := cmd.Flags().GetInt("index")
		if len(args) < 2 && index < 0 {
			return fmt.Errorf("a target or --index is required")
		}

		svc, err := newOneShotService()
		if err != nil {
			return err
		}
		defer svc.Close()

		done := make(chan *service.SwitchEvent, 1)
		cancel := svc.Subscribe(func(ev service.Event) {
			if ev.Switch != nil {
				done <- ev.Switch
			}
		})
		defer cancel()

		var intent switcher.Intent
		if index >= 0 {
			intent, err = svc.SelectIndex(dir, index)
		} else {
			intent, err = svc.RequestSwitch(dir, args[1])
		}
		if err != nil {
			return err
		}
		slog.Debug("Switch scheduled", "intent", intent.String())

		svc.Wait()
		res := <-done
		printSwitchEvent(res)
		if res.Error != "" {
			return fmt.Errorf("switch finished with errors: %s", res.Error)
		}
		return nil
	},
}

func init() {
	switchCmd.Flags().Int("index", -1, "select this ordinal directly, without fallback")
}

func printSwitchEvent(ev *service.SwitchEvent) {
	name := ev.Device.Name
	if name == "" {
		name = ev.Device.ID
	}
	fmt.Printf("%s -> %s\n", ev.Direction, ev.Target)
	fmt.Printf("  outcome: %s\n", ev.Outcome)
	fmt.Printf("  device:  %s\n", name)
	fmt.Printf("  state:   %s\n", ev.State)
	fmt.Printf("  took:    %dms\n", ev.TookMS)
	if ev.Error != "" {
		fmt.Printf("  error:   %s\n", ev.Error)
	}
}
