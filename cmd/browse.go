package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"copycat/api"
	"copycat/types"
)

func validRoot(root string) error {
	if root != types.SourceRoot && root != types.DestinationRoot {
		return fmt.Errorf("invalid root %q, want %s or %s", root, types.SourceRoot, types.DestinationRoot)
	}
	return nil
}

func (a *app) newBrowseCmd() *cobra.Command {
	var p api.BrowseParams
	var info, size bool

	cmd := &cobra.Command{
		Use:   "browse [path]",
		Short: "List a directory of the source or destination root",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validRoot(p.Source); err != nil {
				return err
			}
			if len(args) == 1 {
				p.Path = args[0]
			}
			client, err := a.apiClient()
			if err != nil {
				return err
			}

			if info {
				out, err := client.FolderInfo(cmd.Context(), p.Source, p.Path, size)
				if err != nil {
					return err
				}
				if a.jsonOutput(cmd) {
					return printJSON(a.out, out)
				}
				_, err = fmt.Fprintf(a.out, "%s: %d items, %s\n", out.Path, out.ItemCount, out.SizeFormatted)
				return err
			}

			out, err := client.Browse(cmd.Context(), p)
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				return printJSON(a.out, out)
			}
			return printListing(a.out, out)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&p.Source, "root", types.SourceRoot, "source or destination")
	flags.IntVar(&p.Limit, "limit", 100, "entries per page, 0 for all")
	flags.IntVar(&p.Offset, "offset", 0, "entries to skip")
	flags.StringVar(&p.SortBy, "sort", "name", "name, size or modified")
	flags.StringVar(&p.Order, "order", "asc", "asc or desc")
	flags.BoolVar(&info, "info", false, "show folder information instead of the listing")
	flags.BoolVar(&size, "size", false, "with --info, compute the recursive size")
	return cmd
}

func (a *app) newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <parent path> <name>",
		Short: "Create a folder in the destination root",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			out, err := client.CreateFolder(cmd.Context(), types.DestinationRoot, args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, out.Message)
			return err
		},
	}
}

func (a *app) newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder from the destination root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.apiClient()
			if err != nil {
				return err
			}
			out, err := client.DeleteItem(cmd.Context(), types.DestinationRoot, args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, out.Message)
			return err
		},
	}
}
