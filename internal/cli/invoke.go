package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/buger/jsonparser"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func NewInvokeCommand(root *RootOptions) *cobra.Command {
	var rawArgs string

	cmd := &cobra.Command{
		Use:   "invoke <procedure>",
		Short: "Call a backend procedure",
		Long: `Call a backend procedure with a JSON object of arguments.

Example:
  whyfailctl invoke analyze_user_emotions --args '{"user_uuid":"u1"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseArgs([]byte(rawArgs))
			if err != nil {
				return WrapExitError(ExitCommandError, "parse --args", err)
			}
			return root.run(cmd, func(ctx context.Context, a *app) error {
				res, err := a.client.Backend().Invoke(ctx, args[0], params)
				if err != nil {
					return err
				}
				return a.out.Print(res, func(w io.Writer) {
					fmt.Fprintln(w, res)
				})
			})
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "{}", "procedure arguments as a JSON object")
	return cmd
}

// parseArgs reads a JSON object into procedure arguments. Integral numbers
// stay int64 so that ids and counts survive the trip.
func parseArgs(data []byte) (map[string]any, error) {
	params := make(map[string]any)
	err := jsonparser.ObjectEach(data, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		v, err := parseValue(value, dataType)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		params[string(key)] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

func parseValue(value []byte, dataType jsonparser.ValueType) (any, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Number:
		if n, err := jsonparser.ParseInt(value); err == nil {
			return n, nil
		}
		return jsonparser.ParseFloat(value)
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(value)
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Object:
		return parseArgs(value)
	case jsonparser.Array:
		var out []any
		var inner error
		_, err := jsonparser.ArrayEach(value, func(v []byte, t jsonparser.ValueType, _ int, _ error) {
			if inner != nil {
				return
			}
			var x any
			x, inner = parseValue(v, t)
			out = append(out, x)
		})
		if err != nil {
			return nil, err
		}
		return out, inner
	}
	var v any
	err := json.Unmarshal(value, &v)
	return v, err
}
