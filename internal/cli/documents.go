package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/uri"
)

// readDatum parses arg as JSON, reading stdin when arg is "-".
func readDatum(cmd *cobra.Command, arg string) (jsonv.Value, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(cmd.InOrStdin()); err != nil {
			return jsonv.Value{}, fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	return jsonv.Parse(data)
}

func parseURIs(args ...string) ([]uri.URI, error) {
	out := make([]uri.URI, len(args))
	for i, a := range args {
		u, err := uri.Parse(a)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

// withStore opens the configured backend for the duration of fn.
func withStore(cmd *cobra.Command, opts *RootOptions, fn func(store.Backend) error) (err error) {
	b, err := opts.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := b.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(b)
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insert <uri> <json|->",
		Short: "Store a new document",
		Example: `  pipedb insert entity:/shots/010/010 '{"fps": 24}'
  pipedb insert schemas:/shot - < shot.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			datum, err := readDatum(cmd, args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				return s.Insert(cmd.Context(), us[0], datum)
			})
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "update <uri> <json|->",
		Short: "Replace an existing document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			datum, err := readDatum(cmd, args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				return s.Update(cmd.Context(), us[0], datum)
			})
		},
	}
}

// NewRenameCommand creates the rename command.
func NewRenameCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <src> <dst>",
		Short: "Move a document to a new uri",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args...)
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				return s.Rename(cmd.Context(), us[0], us[1])
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uri>",
		Short: "Remove a document and print the removed uris",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				removed, err := s.Delete(cmd.Context(), us[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), removed)
			})
		},
	}
}

// fieldLookup is implemented by backends able to project on the server.
type fieldLookup interface {
	LookupFields(ctx context.Context, u uri.URI, fields ...string) (jsonv.Value, bool, error)
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(opts *RootOptions) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "lookup <uri>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				var (
					v   jsonv.Value
					ok  bool
					err error
				)
				if fl, isFL := s.(fieldLookup); isFL && len(fields) > 0 {
					v, ok, err = fl.LookupFields(cmd.Context(), us[0], fields...)
				} else {
					v, ok, err = s.Lookup(cmd.Context(), us[0])
					v = v.Project(fields...)
				}
				if err != nil {
					return err
				}
				if !ok {
					return store.NotFound(us[0])
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&fields, "fields", "f", nil, "only print these top-level keys")
	return cmd
}

type entryOutput struct {
	URI   uri.URI     `json:"uri"`
	Datum jsonv.Value `json:"datum"`
}

// parseParams parses key=json arguments. Values that are not valid JSON are
// taken as strings, so seq=010 matches "010".
func parseParams(args []string) (store.Params, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(store.Params, len(args))
	for _, a := range args {
		k, raw, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q: want key=value", a)
		}
		v, err := jsonv.Parse([]byte(raw))
		if errors.Is(err, jsonv.ErrMalformed) {
			v, err = jsonv.String(raw), nil
		}
		if err != nil {
			return nil, err
		}
		params[k] = v
	}
	return params, nil
}

// NewQueryCommand creates the query command.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <uri> [key=value ...]",
		Short: "Print every document matching a wildcard uri",
		Example: `  pipedb query 'entity:/shots/*/*'
  pipedb query 'entity:/*' fps=24 seq=010`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(s store.Backend) error {
				entries, err := s.Query(cmd.Context(), us[0], params)
				if err != nil {
					return err
				}
				out := make([]entryOutput, len(entries))
				for i, e := range entries {
					out[i] = entryOutput{URI: e.URI, Datum: e.Datum}
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}
