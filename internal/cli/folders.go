package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"mailfolders/internal/config"
	"mailfolders/internal/folder"
	"mailfolders/internal/listing"
)

func newFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "folders",
		Aliases: []string{"mailboxes"},
		Short:   "Folder hierarchy operations",
	}
	cmd.AddCommand(newFoldersListCmd())
	cmd.AddCommand(newFoldersTreeCmd())
	cmd.AddCommand(newFoldersLookupCmd())
	cmd.AddCommand(newFoldersSpecialCmd())
	cmd.AddCommand(newFoldersRightsCmd())
	cmd.AddCommand(newFoldersInfoCmd())
	cmd.AddCommand(newFoldersCreateCmd())
	cmd.AddCommand(newFoldersDeleteCmd())
	cmd.AddCommand(newFoldersSubscribeCmd(true))
	cmd.AddCommand(newFoldersSubscribeCmd(false))
	cmd.AddCommand(newFoldersExamineCmd())
	cmd.AddCommand(newFoldersWatchCmd())
	return cmd
}

func newFoldersListCmd() *cobra.Command {
	var subscribed bool

	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List folders, optionally below name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				folders, err := subtree(c, args, subscribed)
				if err != nil {
					return err
				}
				printFolders(cmd.OutOrStdout(), folders)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&subscribed, "subscribed", false, "List subscribed folders only")

	return cmd
}

func newFoldersTreeCmd() *cobra.Command {
	var subscribed bool

	cmd := &cobra.Command{
		Use:   "tree [name]",
		Short: "Print the folder hierarchy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				folders, err := subtree(c, args, subscribed)
				if err != nil {
					return err
				}
				printTree(cmd.OutOrStdout(), folders)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&subscribed, "subscribed", false, "Print the subscription hierarchy")

	return cmd
}

func subtree(c *folder.Collection, args []string, subscribed bool) ([]folder.Folder, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	if subscribed {
		return c.SubscribedSubtree(name)
	}
	return c.Subtree(name)
}

func newFoldersLookupCmd() *cobra.Command {
	var (
		subscribed bool
		need       bool
	)

	cmd := &cobra.Command{
		Use:   "lookup <name>",
		Short: "Look a folder up, rebuilding the cache if it is stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				var (
					f   folder.Folder
					err error
				)
				if subscribed {
					f, err = c.LookupSubscribed(ctx, args[0])
				} else {
					f, err = c.Lookup(ctx, args[0], need)
				}
				if err != nil {
					return err
				}
				printFolder(cmd.OutOrStdout(), f)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&subscribed, "subscribed", false, "Look in the subscription listing")
	cmd.Flags().BoolVar(&need, "need-usable", false, "Rebuild once if the cached folder is neither selectable nor a parent")

	return cmd
}

func newFoldersSpecialCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "special [use...]",
		Short: "List special-use folders (drafts, junk, sent, trash, archive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			uses := listing.SpecialUses
			if len(args) > 0 {
				uses = nil
				for _, arg := range args {
					use, ok := listing.ParseSpecialUse(arg)
					if !ok {
						return fmt.Errorf("unknown special use %q", arg)
					}
					uses = append(uses, use)
				}
			}

			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				for _, use := range uses {
					folders, err := c.SpecialUse(ctx, use)
					if err != nil {
						return err
					}
					names := xslices.Map(folders, func(f folder.Folder) string { return f.FullName })
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", use, strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
	return cmd
}

func newFoldersRightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rights <name>",
		Short: "Show your access rights on a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				rights, err := c.Rights(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], rights)
				return nil
			})
		},
	}
	return cmd
}

func newFoldersInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show what the folder cache learned about the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				names, err := c.Names()
				if err != nil {
					return err
				}
				ns := c.Namespaces()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Folders: %d\n", len(names))
				fmt.Fprintf(out, "Separator: %s\n", separatorString(c.Separator()))
				fmt.Fprintf(out, "Shared namespaces: %s\n", strings.Join(ns.Shared, ", "))
				fmt.Fprintf(out, "Other users namespaces: %s\n", strings.Join(ns.User, ", "))
				fmt.Fprintf(out, "Mbox format: %s\n", c.MboxFormat())
				fmt.Fprintf(out, "Built: %s (%s)\n", c.Stamp().Format(time.RFC3339), c.State())
				fmt.Fprintf(out, "TTL: %s\n", c.Options().EffectiveTTL())
				return nil
			})
		},
	}
	return cmd
}

func newFoldersCreateCmd() *cobra.Command {
	var subscribe bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				c, err := a.collection(ctx)
				if err != nil {
					return err
				}
				if err := a.service.CreateMailbox(ctx, args[0]); err != nil {
					return err
				}
				if subscribe {
					err = c.Subscribe(ctx, args[0], true)
				} else {
					err = c.AddOrRefresh(ctx, args[0])
				}
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "Folder created.")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&subscribe, "subscribe", false, "Subscribe to the new folder")

	return cmd
}

func newFoldersDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				c, err := a.collection(ctx)
				if err != nil {
					return err
				}
				if err := a.service.DeleteMailbox(ctx, args[0]); err != nil {
					return err
				}
				c.Remove(args[0])

				fmt.Fprintln(cmd.OutOrStdout(), "Folder deleted.")
				return nil
			})
		},
	}
	return cmd
}

func newFoldersSubscribeCmd(subscribe bool) *cobra.Command {
	use, short := "subscribe <name>", "Subscribe to a folder"
	if !subscribe {
		use, short = "unsubscribe <name>", "Unsubscribe from a folder"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCollection(cmd, func(ctx context.Context, c *folder.Collection) error {
				if err := c.Subscribe(ctx, args[0], subscribe); err != nil {
					return err
				}
				f, err := c.LookupExistence(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: subscribed %s\n", f.FullName, f.Subscribed)
				return nil
			})
		},
	}
	return cmd
}

func newFoldersExamineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "examine <name>",
		Short: "Open a folder read-only and show it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				status, err := a.service.Examine(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d messages, %d recent, uidvalidity %d\n",
					status.Name, status.Messages, status.Recent, status.UidValidity)

				// The shared client now has a mailbox open; rebuilds must not reuse it.
				c, err := a.collection(ctx)
				if err != nil {
					return err
				}
				c.Invalidate(true)

				f, err := c.LookupExistence(ctx, args[0])
				if err != nil {
					return err
				}
				printFolder(cmd.OutOrStdout(), f)
				return nil
			})
		},
	}
	return cmd
}

func newFoldersWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the folder hierarchy and print changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if _, err := config.Watch(func(cfg config.Config, err error) {
					if err != nil {
						logrus.WithError(err).Warn("Ignoring unreadable config change")
						return
					}
					a.registry.Reload(cfg.FolderOptions())
				}); err != nil {
					logrus.WithError(err).Debug("Not watching config")
				}

				return watchFolders(ctx, a, interval, func(added, removed []string) {
					for _, name := range added {
						fmt.Fprintf(cmd.OutOrStdout(), "+ %s\n", name)
					}
					for _, name := range removed {
						fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", name)
					}
				})
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "Polling interval")

	return cmd
}

func watchFolders(ctx context.Context, a *app, interval time.Duration, report func(added, removed []string)) error {
	var prev []string

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		c, err := a.collection(ctx)
		if err != nil {
			return err
		}
		if c.State() != folder.Initialized {
			if err := c.Build(ctx); err != nil {
				return err
			}
		}
		names, err := c.Names()
		if err != nil {
			return err
		}

		added, removed := diffNames(prev, names)
		report(added, removed)
		prev = names

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.registry.Invalidate(a.key.Principal, a.key.Account)
		}
	}
}

// diffNames compares two sorted name lists.
func diffNames(prev, next []string) ([]string, []string) {
	added := xslices.Filter(next, func(name string) bool {
		_, found := slices.BinarySearch(prev, name)
		return !found
	})
	removed := xslices.Filter(prev, func(name string) bool {
		_, found := slices.BinarySearch(next, name)
		return !found
	})
	return added, removed
}
