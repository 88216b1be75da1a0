package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailfolders/internal/folder"
	"mailfolders/internal/listing"
)

func newStatusCmd() *cobra.Command {
	var special bool

	cmd := &cobra.Command{
		Use:   "status [folder...]",
		Short: "Show message counts of folders (INBOX by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				names := args
				if len(names) == 0 {
					names = []string{listing.InboxName}
				}
				if special {
					for _, use := range listing.SpecialUses {
						folders, err := c.SpecialUse(ctx, use)
						if err != nil {
							return err
						}
						for _, f := range folders {
							names = append(names, f.FullName)
						}
					}
				}

				for _, name := range names {
					counts, err := c.Status(ctx, name)
					if errors.Is(err, folder.ErrUnknownFolder) {
						fmt.Fprintf(cmd.OutOrStdout(), "%s: no such folder\n", name)
						continue
					}
					if err != nil {
						return err
					}
					printCounts(cmd.OutOrStdout(), name, counts)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&special, "special", false, "Include every special-use folder")

	return cmd
}
