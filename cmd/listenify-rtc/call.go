package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/listenify-platform/listenify-app/pkg/client"
	"github.com/listenify-platform/listenify-app/pkg/jsonrpc"
	"github.com/spf13/cobra"
)

func callCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	var compact bool

	cmd := &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Issue one JSON-RPC call and print its result",
		Example: `  listenify-rtc call room.join '{"slug":"lofi"}' --url wss://rtc.listenify.io/ws
  listenify-rtc call user.me --config rtc.yaml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			a, err := flags.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := connect(ctx, a); err != nil {
				return err
			}

			var callOpts []client.CallOption
			if timeout > 0 {
				callOpts = append(callOpts, client.WithCallTimeout(timeout))
			}
			result, err := a.client.Call(ctx, args[0], params, callOpts...)
			if err != nil {
				return describeCallError(args[0], err)
			}
			return printJSON(cmd, result, compact)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-call timeout (defaults to connection.timeout)")
	cmd.Flags().BoolVar(&compact, "compact", false, "print the result on one line")
	return cmd
}

func notifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notify <method> [params-json]",
		Short: "Send a JSON-RPC notification (no response is expected)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}

			a, err := flags.newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := connect(ctx, a); err != nil {
				return err
			}
			if err := a.client.Notify(ctx, args[0], params); err != nil {
				return fmt.Errorf("notify %s: %w", args[0], err)
			}
			// Let the frame leave before the socket is closed.
			return a.client.Disconnect(context.WithoutCancel(ctx))
		},
	}
}

// parseParams returns nil when no params were given, so the params member is omitted.
func parseParams(args []string) (any, error) {
	if len(args) == 0 || args[0] == "" {
		return nil, nil
	}
	raw := json.RawMessage(args[0])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("params must be valid JSON: %s", args[0])
	}
	return raw, nil
}

func describeCallError(method string, err error) error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		msg := fmt.Sprintf("%s failed: %s (%d %s)", method, rpcErr.Message, rpcErr.Code, rpcErr.Code.Name())
		if len(rpcErr.Data) > 0 {
			msg += ": " + string(rpcErr.Data)
		}
		return errors.New(msg)
	}
	return fmt.Errorf("call %s: %w", method, err)
}

func printJSON(cmd *cobra.Command, data json.RawMessage, compact bool) error {
	var buf bytes.Buffer
	var err error
	if compact {
		err = json.Compact(&buf, data)
	} else {
		err = json.Indent(&buf, data, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	buf.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}
