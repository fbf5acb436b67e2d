package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/nitroshare/peer"
	"tarun-kavipurapu/nitroshare/pkg/logger"
)

var receiveInteractive bool

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Accept incoming transfers into the download directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := peer.NewPeerServer(cfg)
		if err != nil {
			return err
		}

		if receiveInteractive {
			p.SetOnTransfer(func(s *peer.Session) {
				logger.Sugar.Infof("Incoming transfer %s from %s", s.ID[:8], s.Remote)
			})
		} else {
			p.SetOnTransfer(func(s *peer.Session) {
				go peer.NewProgressRenderer(s.Tracker, !noColor).Start()
			})
		}

		if err := p.Start(); err != nil {
			return err
		}
		logger.Sugar.Infof("Receiving as %q on %s", cfg.DeviceName, p.Transport.Addr())

		if receiveInteractive {
			fmt.Println("nitroshare receiver interactive shell")
			fmt.Println("Type 'help' for commands.")

			prompt.New(
				func(in string) { receiveExecutor(in, p) },
				receiveCompleter,
				prompt.OptionPrefix("nitroshare> "),
				prompt.OptionTitle("nitroshare receiver"),
			).Run()
			return nil
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println()
		return p.Stop()
	},
}

func receiveExecutor(in string, p *peer.PeerServer) {
	blocks := strings.Fields(strings.TrimSpace(in))
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping receiver...")
		if err := p.Stop(); err != nil {
			fmt.Printf("Error stopping receiver: %v\n", err)
		}
		os.Exit(0)
	case "status", "list":
		fmt.Println(p.GetStatus())
	case "cancel":
		if len(blocks) < 2 {
			fmt.Println("Usage: cancel <transfer_id>")
			return
		}
		if err := p.Cancel(blocks[1]); err != nil {
			fmt.Printf("Error cancelling transfer: %v\n", err)
		} else {
			fmt.Println("Transfer cancelled.")
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status                 - Show receiver status and transfers")
		fmt.Println("  cancel <id>            - Cancel a running transfer")
		fmt.Println("  exit                   - Stop receiver and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func receiveCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show receiver status"},
		{Text: "cancel", Description: "Cancel a transfer by id"},
		{Text: "exit", Description: "Exit the receiver"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().BoolVarP(&receiveInteractive, "interactive", "i", false, "Start in interactive mode")
	receiveCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored progress output")
}
