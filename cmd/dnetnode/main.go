// Command dnetnode runs a single dnet cluster member: it loads
// configuration, wires logging, the in-memory backend and route table,
// and a node.Node, then serves until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/node"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dnetnode",
		Short: "Run a distributed object-storage cluster node",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dnetnode version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start listening and serving cluster traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v, cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("addrs", nil, "listen addresses, host:port:family")
	flags.String("cookie", "", "auth cookie shared with peers")
	flags.Duration("wait-timeout", 0, "default transaction deadline")
	flags.Int("net-thread-num", 0, "network thread count (stored in the config; not used by the reactor)")
	flags.Int("io-thread-num", 0, "I/O dispatcher worker count")
	flags.String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")

	_ = v.BindPFlag("addrs", flags.Lookup("addrs"))
	_ = v.BindPFlag("cookie", flags.Lookup("cookie"))
	_ = v.BindPFlag("wait_timeout", flags.Lookup("wait-timeout"))
	_ = v.BindPFlag("net_thread_num", flags.Lookup("net-thread-num"))
	_ = v.BindPFlag("io_thread_num", flags.Lookup("io-thread-num"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	v.SetConfigName("dnetnode")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dnetnode")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "dnetnode: config file error: %v\n", err)
		}
	}

	return cmd
}

func runServe(v *viper.Viper, cmd *cobra.Command) error {
	log := definition.NewDefaultLogger()

	cfg, err := node.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := node.NewMetrics(registry)

	routes := node.NewMemoryRouteTable(nil)
	backend := node.NewMemoryBackend()
	n := node.NewNode(cfg, routes, backend, metrics, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsAddr := v.GetString("metrics_addr")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server exited: %v", err)
		}
	}()
	log.Infof("metrics listening on %s/metrics", metricsAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("serving on %v", cfg.Addrs)
	err = n.Serve(ctx)
	_ = metricsSrv.Close()
	return err
}
