package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/nitroshare/pkg/discovery"
)

var discoverWait time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List receivers announcing themselves on the local network",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := discovery.NewResolver()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverWait)
		defer cancel()

		results, err := resolver.Browse(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tTRANSPORT\tINSTANCE")
		seen := make(map[string]bool)
		for info := range results {
			if seen[info.InstanceName] {
				continue
			}
			seen[info.InstanceName] = true
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.DeviceName(), info.Addr(), info.Transport(), info.InstanceName)
		}
		if len(seen) == 0 {
			fmt.Println("No receivers found.")
			return nil
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVarP(&discoverWait, "wait", "w", 3*time.Second, "How long to listen for announcements")
}
