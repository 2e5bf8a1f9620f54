package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rbaprobe/internal/proxy"
)

const defaultProbeTimeout = 10 * time.Second

func newProxyCmd(a *app) *cobra.Command {
	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Inspects the proxy pool and its usage ledger",
	}
	proxyCmd.AddCommand(newProxyHistoryCmd(), newProxyCheckCmd(a))
	return proxyCmd
}

func newProxyHistoryCmd() *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Prints the most recent proxy assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			ledger := proxy.NewLedger(cfg.Proxy().LedgerPath, cfg.Proxy().LedgerCap)
			entries, err := ledger.Tail(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No proxy usage recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIMESTAMP\tUSER TYPE\tPROXY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.UserType, e.Proxy)
			}
			return w.Flush()
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "entries to show")
	return historyCmd
}

func newProxyCheckCmd(a *app) *cobra.Command {
	var address string
	checkCmd := &cobra.Command{
		Use:   "check [endpoint...]",
		Short: "Checks that the target is reachable through each proxy",
		Long: `Opens a TCP connection to the probe address through every configured proxy
server, or through the endpoints given as arguments. http:// endpoints are
tunnelled with CONNECT, socks5:// endpoints with SOCKS5.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			endpoints := args
			if len(endpoints) == 0 {
				endpoints = cfg.Proxy().Servers
			}
			if len(endpoints) == 0 {
				return fmt.Errorf("no proxy servers configured and none given")
			}
			if address == "" {
				address = cfg.Proxy().ProbeAddress
			}

			probes := checkProxies(cmd.Context(), endpoints, address, cfg.Proxy().ProbeTimeout)
			failed := 0
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROXY\tSTATUS\tLATENCY\tERROR")
			for _, p := range probes {
				status := "ok"
				if !p.Reachable {
					status = "unreachable"
					failed++
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Endpoint, status, p.Latency.Round(time.Millisecond), p.Error)
				a.logger.Debug("Proxy probed.", zap.String("proxy", p.Endpoint), zap.Bool("reachable", p.Reachable), zap.Duration("latency", p.Latency))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d proxies unreachable", failed, len(probes))
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&address, "address", "", "host:port to reach through each proxy (default proxy.probe_address)")
	return checkCmd
}

// checkProxies probes all endpoints concurrently and returns the results in
// input order.
func checkProxies(ctx context.Context, endpoints []string, address string, timeout time.Duration) []proxy.ProbeResult {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	out := make([]proxy.ProbeResult, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ep := range endpoints {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			out[i] = proxy.Probe(pctx, ep, address)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
