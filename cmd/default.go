package cmd

import (
	"fmt"

	"github.com/audiolibrelab/devswitch/internal/service"

	"github.com/spf13/cobra"
)

var defaultCmd = &cobra.Command{
	Use:   "default [direction]",
	Short: "Show the OS default devices or activate the default communication device",
	Long: `Without flags, print the default endpoint the sound server reports for
each direction. With --activate, switch the direction to the default
communication device, restarting it if it was running.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := directionsFromArgs(args)
		if err != nil {
			return err
		}
		activate, _ := cmd.Flags().GetBool("activate")

		svc, err := newOneShotService()
		if err != nil {
			return err
		}
		defer svc.Close()

		if !activate {
			fmt.Printf("=== DEFAULT ENDPOINTS ===\n")
			for _, dir := range dirs {
				ep, err := svc.DefaultEndpoint(dir)
				if err != nil {
					fmt.Printf("%s: unavailable (%v)\n", dir, err)
					continue
				}
				fmt.Printf("%s: %s\n  id: %s\n", dir, ep.Name, ep.ID)
			}
			return nil
		}

		results := make(chan *service.SwitchEvent, len(dirs))
		cancel := svc.Subscribe(func(ev service.Event) {
			if ev.Switch != nil {
				results <- ev.Switch
			}
		})
		defer cancel()

		for _, dir := range dirs {
			if _, err := svc.ActivateDefault(dir); err != nil {
				return err
			}
		}
		svc.Wait()

		var failed bool
		for range dirs {
			ev := <-results
			printSwitchEvent(ev)
			failed = failed || ev.Error != ""
		}
		if failed {
			return fmt.Errorf("activating the default device finished with errors")
		}
		return nil
	},
}

func init() {
	defaultCmd.Flags().Bool("activate", false, "switch to the default communication device")
}
