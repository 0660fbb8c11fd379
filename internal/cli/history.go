package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tumblehead/pipedb/internal/config"
	"github.com/tumblehead/pipedb/internal/store"
	"github.com/tumblehead/pipedb/internal/store/filestore"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
	At    string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <uri>",
		Short: "List the commits that changed a document",
		Long: `List the commits that changed a document, newest first.

Requires the file backend with history enabled. With --at, print the document
as it was at that commit instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			us, err := parseURIs(args[0])
			if err != nil {
				return err
			}
			if opts.Config().Backend != config.BackendFile {
				return errors.New("history needs the file backend")
			}
			return withStore(cmd, opts.RootOptions, func(s store.Backend) error {
				fs, ok := s.(*filestore.FileStore)
				if !ok {
					return fmt.Errorf("history is not supported by %T", s)
				}
				if opts.At != "" {
					v, err := fs.Revision(cmd.Context(), us[0], opts.At)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), v)
				}
				commits, err := fs.History(cmd.Context(), us[0], opts.Limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), commits)
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of commits")
	cmd.Flags().StringVar(&opts.At, "at", "", "print the document at this commit hash")

	return cmd
}
