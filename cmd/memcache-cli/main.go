package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	memcache "github.com/pior/memcache-binary"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "memcache-cli",
		Short:         "Talk to memcached servers over the binary protocol",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setLogLevel(opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML file listing servers and credentials")
	flags.StringSliceVarP(&opts.servers, "server", "s", nil, "Server as host:port or host:port@weight, repeatable")
	flags.StringVarP(&opts.username, "username", "u", "", "SASL PLAIN username")
	flags.StringVarP(&opts.password, "password", "p", "", "SASL PLAIN password")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Per-request timeout")
	flags.Int32Var(&opts.maxConns, "max-connections", 0, "Connections per server")
	flags.StringVarP(&opts.logLevel, "loglevel", "l", "warn", "Log level: debug, info, warn, error")

	storeCmd := func(use, short string, run func(ctx context.Context, client *memcache.Client, item memcache.Item) error) *cobra.Command {
		var expiration, itemFlags uint32
		cmd := &cobra.Command{
			Use:   use + " <key> <value>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					item := memcache.Item{Key: args[0], Value: []byte(args[1]), Flags: itemFlags, Expiration: expiration}
					if err := run(ctx, client, item); err != nil {
						return err
					}
					fmt.Fprintln(out, "STORED")
					return nil
				})
			},
		}
		cmd.Flags().Uint32Var(&expiration, "ttl", 0, "Expiration in seconds")
		cmd.Flags().Uint32Var(&itemFlags, "flags", 0, "Opaque item flags")
		return cmd
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "get <key>...",
			Short: "Get one or more keys",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					if len(args) == 1 {
						item, err := client.Get(ctx, args[0])
						if err != nil {
							return err
						}
						printItem(out, item)
						return nil
					}

					items, err := client.GetMulti(ctx, args)
					for _, key := range args {
						if item, ok := items[key]; ok {
							printItem(out, item)
						} else {
							fmt.Fprintf(out, "%s: <not found>\n", key)
						}
					}
					return err
				})
			},
		},
		storeCmd("set", "Store an item", func(ctx context.Context, client *memcache.Client, item memcache.Item) error {
			return client.Set(ctx, item)
		}),
		storeCmd("add", "Store an item only if the key is absent", func(ctx context.Context, client *memcache.Client, item memcache.Item) error {
			return client.Add(ctx, item)
		}),
		storeCmd("replace", "Store an item only if the key exists", func(ctx context.Context, client *memcache.Client, item memcache.Item) error {
			return client.Replace(ctx, item)
		}),
		&cobra.Command{
			Use:   "append <key> <value>",
			Short: "Append data to an existing item",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					return printOK(out, client.Append(ctx, args[0], []byte(args[1])), "STORED")
				})
			},
		},
		&cobra.Command{
			Use:   "prepend <key> <value>",
			Short: "Prepend data to an existing item",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					return printOK(out, client.Prepend(ctx, args[0], []byte(args[1])), "STORED")
				})
			},
		},
		&cobra.Command{
			Use:     "delete <key>",
			Aliases: []string{"del"},
			Short:   "Delete a key",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					return printOK(out, client.Delete(ctx, args[0]), "DELETED")
				})
			},
		},
		counterCmd(opts, "incr", "Increment a counter", (*memcache.Client).Increment),
		counterCmd(opts, "decr", "Decrement a counter, floored at zero", (*memcache.Client).Decrement),
		&cobra.Command{
			Use:   "touch <key> <ttl>",
			Short: "Update the expiration of a key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ttl, err := strconv.ParseUint(args[1], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid ttl: %w", err)
				}
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					return printOK(out, client.Touch(ctx, args[0], uint32(ttl)), "TOUCHED")
				})
			},
		},
		flushCmd(opts),
		&cobra.Command{
			Use:   "ping",
			Short: "Send a no-op to every server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					start := time.Now()
					return printOK(out, client.Ping(ctx), fmt.Sprintf("PONG (%v)", time.Since(start)))
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version of every server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					versions, err := client.Version(ctx)
					for _, addr := range sortedKeys(versions) {
						fmt.Fprintf(out, "%s: %s\n", addr, versions[addr])
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "stats [group]",
			Short: "Print server statistics, optionally for one group",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				group := ""
				if len(args) == 1 {
					group = args[0]
				}
				return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
					stats, err := client.ServerStats(ctx, group)
					for _, addr := range sortedKeys(stats) {
						fmt.Fprintf(out, "%s:\n", addr)
						for _, name := range sortedKeys(stats[addr]) {
							fmt.Fprintf(out, "  %s: %s\n", name, stats[addr][name])
						}
					}
					return err
				})
			},
		},
	)

	return root
}

func counterCmd(opts *options, use, short string, op func(*memcache.Client, context.Context, string, uint64, uint64, uint32) (uint64, error)) *cobra.Command {
	var initial uint64
	var expiration uint32
	var noCreate bool

	cmd := &cobra.Command{
		Use:   use + " <key> [delta]",
		Short: short,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := uint64(1)
			if len(args) == 2 {
				var err error
				if delta, err = strconv.ParseUint(args[1], 10, 64); err != nil {
					return fmt.Errorf("invalid delta: %w", err)
				}
			}
			if noCreate {
				expiration = memcache.NoCreate
			}
			return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
				value, err := op(client, ctx, args[0], delta, initial, expiration)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, value)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&initial, "initial", 0, "Value stored when the counter does not exist")
	cmd.Flags().Uint32Var(&expiration, "ttl", 0, "Expiration in seconds of a created counter")
	cmd.Flags().BoolVar(&noCreate, "no-create", false, "Fail instead of creating a missing counter")
	return cmd
}

func flushCmd(opts *options) *cobra.Command {
	var delay uint32

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Invalidate all items on every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, client *memcache.Client, out io.Writer) error {
				return printOK(out, client.Flush(ctx, delay), "OK")
			})
		},
	}
	cmd.Flags().Uint32Var(&delay, "delay", 0, "Seconds before the flush takes effect")
	return cmd
}

// run connects to the servers, calls fn and closes the client.
func (o *options) run(cmd *cobra.Command, fn func(ctx context.Context, client *memcache.Client, out io.Writer) error) error {
	servers, config, err := o.resolve()
	if err != nil {
		return err
	}
	config.Logger = log.StandardLogger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log.WithField("servers", len(servers)).Debug("connecting")

	client, err := memcache.Connect(ctx, servers, config)
	if err != nil {
		return err
	}
	defer client.Close()

	err = fn(ctx, client, cmd.OutOrStdout())
	if errors.Is(err, memcache.ErrKeyNotFound) {
		return errors.New("not found")
	}
	return err
}

func printItem(out io.Writer, item memcache.Item) {
	fmt.Fprintf(out, "%s: %s (flags=%d cas=%d)\n", item.Key, item.Value, item.Flags, item.CAS)
}

func printOK(out io.Writer, err error, msg string) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(out, msg)
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
	log.SetOutput(os.Stderr)
}
