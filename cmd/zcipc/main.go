// Command zcipc publishes, subscribes, notifies and lists zcipc services
// from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"gosuda.org/zcipc"
	"gosuda.org/zcipc/config"
	"gosuda.org/zcipc/internal/logging"
	"gosuda.org/zcipc/internal/metrics"
)

type globalFlags struct {
	configPath  string
	logLevel    int
	backend     string
	metricsAddr string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:           "zcipc",
		Short:         "Zero-copy shared memory IPC tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitLogging(flags.logLevel)
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("ZCIPC_CONFIG"), "TOML config file")
	rootCmd.PersistentFlags().IntVar(&flags.logLevel, "log-level", logging.DEFAULT, "Log verbosity: 0 default, 3 verbose, 4 debug, 5 trace")
	rootCmd.PersistentFlags().StringVar(&flags.backend, "backend", zcipc.ZeroCopy.String(), "Backend: zero_copy|process_local")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")

	rootCmd.AddCommand(
		newPublishCommand(&flags),
		newSubscribeCommand(&flags),
		newNotifyCommand(&flags),
		newListenCommand(&flags),
		newListCommand(&flags),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options turns the global flags into service options.
func (f *globalFlags) options() ([]zcipc.Option, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	config.FromEnv(&cfg)
	backend, err := zcipc.ParseBackend(f.backend)
	if err != nil {
		return nil, err
	}
	return []zcipc.Option{zcipc.WithConfig(cfg), zcipc.WithBackend(backend)}, nil
}

// run executes loop until SIGINT or SIGTERM, serving metrics next to it when
// requested.
func (f *globalFlags) run(loop func(ctx context.Context) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if f.metricsAddr != "" {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: f.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}
	g.Go(func() error {
		defer cancel()
		return loop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serviceName(args []string) (zcipc.ServiceName, error) {
	return zcipc.NewServiceName(args[0])
}

func newPublishCommand(flags *globalFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "publish <service>",
		Short: "Publish an increasing counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := serviceName(args)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			factory, err := zcipc.PubSub[uint64](zcipc.NewService(name, opts...)).OpenOrCreate()
			if err != nil {
				return err
			}
			defer factory.Close()
			pub, err := factory.Publisher().Create()
			if err != nil {
				return err
			}
			defer pub.Close()

			return flags.run(func(ctx context.Context) error {
				for counter := uint64(0); ; counter++ {
					n, err := pub.SendCopy(counter)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "sent %d to %d subscribers\n", counter, n)
					if ev, err := zcipc.Wait(ctx, interval); ev != zcipc.Tick {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between samples")
	return cmd
}

func newSubscribeCommand(flags *globalFlags) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "subscribe <service>",
		Short: "Print the counter samples of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := serviceName(args)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			factory, err := zcipc.PubSub[uint64](zcipc.NewService(name, opts...)).OpenOrCreate()
			if err != nil {
				return err
			}
			defer factory.Close()
			sub, err := factory.Subscriber().Create()
			if err != nil {
				return err
			}
			defer sub.Close()

			return flags.run(func(ctx context.Context) error {
				for {
					for {
						sample, err := sub.Receive()
						if err != nil {
							return err
						}
						if sample == nil {
							break
						}
						fmt.Fprintf(cmd.OutOrStdout(), "received %d from %s at %s\n",
							*sample.Payload(), sample.Header().PublisherID(), sample.Header().Timestamp().Format(time.RFC3339Nano))
						sample.Release()
					}
					if ev, err := zcipc.Wait(ctx, interval); ev != zcipc.Tick {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "Polling interval")
	return cmd
}

func newNotifyCommand(flags *globalFlags) *cobra.Command {
	var (
		eventID  uint64
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "notify <service>",
		Short: "Send an event periodically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := serviceName(args)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			factory, err := zcipc.NewService(name, opts...).Event().OpenOrCreate()
			if err != nil {
				return err
			}
			defer factory.Close()
			notifier, err := factory.Notifier().DefaultEventID(zcipc.EventID(eventID)).Create()
			if err != nil {
				return err
			}
			defer notifier.Close()

			return flags.run(func(ctx context.Context) error {
				for {
					n := notifier.Notify()
					fmt.Fprintf(cmd.OutOrStdout(), "notified %d listeners with event %d\n", n, eventID)
					if ev, err := zcipc.Wait(ctx, interval); ev != zcipc.Tick {
						return err
					}
				}
			})
		},
	}
	cmd.Flags().Uint64Var(&eventID, "event-id", 0, "Event id to send")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Time between events")
	return cmd
}

func newListenCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen <service>",
		Short: "Print the events of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := serviceName(args)
			if err != nil {
				return err
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			factory, err := zcipc.NewService(name, opts...).Event().OpenOrCreate()
			if err != nil {
				return err
			}
			defer factory.Close()
			listener, err := factory.Listener().Create()
			if err != nil {
				return err
			}
			defer listener.Close()

			return flags.run(func(ctx context.Context) error {
				for {
					_, err := listener.BlockingWait(ctx, func(id zcipc.EventID) bool {
						fmt.Fprintf(cmd.OutOrStdout(), "event %d\n", id)
						return true
					})
					if err != nil {
						return err
					}
				}
			})
		},
	}
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			return zcipc.List(func(c zcipc.StaticConfig) bool {
				pattern, _ := c.Pattern()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.UUID, pattern, c.ServiceName)
				return true
			}, opts...)
		},
	}
}
