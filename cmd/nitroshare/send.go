package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"tarun-kavipurapu/nitroshare/peer"
	"tarun-kavipurapu/nitroshare/pkg/logger"
)

var (
	sendTo   string
	sendPeer string
	noColor  bool
)

var sendCmd = &cobra.Command{
	Use:   "send [flags] <path>...",
	Short: "Send files and directories to a receiver",
	Example: `  nitroshare send --peer 192.168.1.20:8040 ./photos notes.txt
  nitroshare send --to Desk ./report.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (sendTo == "") == (sendPeer == "") {
			return errors.New("exactly one of --to or --peer is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		addr, name := sendPeer, ""
		if sendTo != "" {
			lookupCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
			info, err := peer.ResolvePeer(lookupCtx, sendTo)
			cancel()
			if err != nil {
				return err
			}
			addr, name = info.Addr(), info.DeviceName()
			if t := info.Transport(); t != cfg.Transport {
				logger.Sugar.Infof("%s receives over %s, switching transport", name, t)
				cfg.Transport = t
			}
		}

		p, err := peer.NewPeerServer(cfg)
		if err != nil {
			return err
		}
		defer p.Stop()

		s, err := p.Send(ctx, addr, name, args...)
		if err != nil {
			return err
		}
		renderer := peer.NewProgressRenderer(s.Tracker, !noColor)
		go renderer.Start()

		<-s.Transfer.Done()
		renderer.Wait()
		if err := s.Transfer.Err(); err != nil {
			return fmt.Errorf("transfer to %s failed: %w", addr, err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendTo, "to", "", "Name of a receiver discovered over mDNS")
	sendCmd.Flags().StringVarP(&sendPeer, "peer", "p", "", "Address of the receiver (host:port)")
	sendCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored progress output")
}
