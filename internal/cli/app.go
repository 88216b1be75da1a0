package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mailfolders/internal/cache"
	"mailfolders/internal/config"
	"mailfolders/internal/folder"
	"mailfolders/internal/imap"
)

// app wires one IMAP account to a folder cache registry.
type app struct {
	cfg      config.Config
	service  *imap.Service
	registry *cache.Registry
	key      cache.Key
}

func newApp(cfg config.Config, account int) *app {
	service := imap.NewService(cfg)
	namespaces := imap.NewNamespaces(service)

	factory := func(_ context.Context, key cache.Key) (*folder.Collection, error) {
		log := logrus.WithFields(logrus.Fields{
			"principal": key.Principal,
			"account":   key.Account,
		})
		return folder.New(service, namespaces, cfg.FolderOptions()).WithLogger(log), nil
	}

	return &app{
		cfg:      cfg,
		service:  service,
		registry: cache.New(factory, cfg.FolderOptions()),
		key:      cache.Key{Principal: cfg.Principal(), Account: account},
	}
}

func (a *app) collection(ctx context.Context) (*folder.Collection, error) {
	return a.registry.Get(ctx, a.key)
}

func (a *app) close() {
	a.registry.Drop(a.key.Principal)
	if err := a.service.Close(); err != nil {
		logrus.WithError(err).Debug("Failed to log out")
	}
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateIMAP(cfg); err != nil {
		return err
	}

	account, _ := cmd.Flags().GetInt("account")

	a := newApp(cfg, account)
	defer a.close()

	return fn(cmd.Context(), a)
}

// withCollection runs fn against the built folder cache of the configured account.
func withCollection(cmd *cobra.Command, fn func(ctx context.Context, c *folder.Collection) error) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		c, err := a.collection(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	})
}
