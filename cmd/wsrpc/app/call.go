package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wsrpc/config"
	"wsrpc/endpoint"
)

type callCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	url            string
	repeat         int
}

func newCallCommandeer(rootCommandeer *RootCommandeer) *callCommandeer {
	commandeer := &callCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "call method [json-arg ...]",
		Short: "Call a method and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(rootCommandeer.configPath)
			if err != nil {
				return errors.Wrap(err, "Failed to load configuration")
			}
			if commandeer.url != "" {
				cfg.URL = commandeer.url
			}
			if commandeer.repeat <= 0 {
				return errors.New("Repeat must be positive")
			}
			if err := rootCommandeer.initLogger(&cfg.Log); err != nil {
				return err
			}

			return commandeer.call(cmd.Context(), cfg, args[0], parseArgs(args[1:]), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&commandeer.url, "url", "u", "", "Server url, overrides the configuration")
	cmd.Flags().IntVarP(&commandeer.repeat, "repeat", "n", 1, "Number of concurrent calls")

	commandeer.cmd = cmd
	return commandeer
}

func (cc *callCommandeer) call(ctx context.Context, cfg config.ClientConfig, method string, args []any, out io.Writer) error {
	e, err := endpoint.New(map[string]any{})
	if err != nil {
		return err
	}
	proxy, err := e.AsClient(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "Failed to connect")
	}
	defer proxy.Close() // nolint: errcheck

	var outMu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < cc.repeat; i++ {
		group.Go(func() error {
			result, err := proxy.Call(groupCtx, method, args...)
			if err != nil {
				return err
			}
			encoded, err := json.Marshal(result)
			if err != nil {
				return errors.Wrap(err, "Failed to encode result")
			}

			outMu.Lock()
			defer outMu.Unlock()
			_, err = fmt.Fprintln(out, string(encoded))
			return err
		})
	}
	return group.Wait()
}

// parseArgs decodes each argument as JSON. Arguments that are not valid JSON are passed
// as strings, so that `call echo hello` works without quoting.
func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, arg := range raw {
		var value any
		if err := json.Unmarshal([]byte(arg), &value); err != nil {
			value = arg
		}
		args = append(args, value)
	}
	return args
}
