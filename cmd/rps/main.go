package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/rps-rooms/internal/config"
	"github.com/DoyleJ11/rps-rooms/internal/console"
	"github.com/DoyleJ11/rps-rooms/internal/identity"
	"github.com/DoyleJ11/rps-rooms/internal/logging"
	"github.com/DoyleJ11/rps-rooms/internal/session"
)

const releaseVersion = "0.3.0"

var clientStores = []string{config.StoreRemote, config.StorePostgres, config.StoreNATS}

func main() {
	cobra.CheckErr(config.LoadDotEnv())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}

func newCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "rps",
		Short:         "Play rock paper scissors against someone in a shared room.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
	}

	pfs := root.PersistentFlags()
	config.StoreFlags(pfs, cfg, config.StoreRemote)
	config.ClientFlags(pfs, cfg)
	config.BindEnv(pfs)

	root.AddCommand(&cobra.Command{
		Use:   "join <room>",
		Short: "Join a room, creating it if nobody is there yet.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(clientStores...); err != nil {
				return err
			}
			return play(cmd.Context(), cfg, args[0], cmd)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "code",
		Short: "Ask the room server for an unused room id.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(config.StoreRemote); err != nil {
				return err
			}
			return newCode(cmd.Context(), cfg, cmd)
		},
	})

	root.CompletionOptions.HiddenDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{Hidden: true})
	root.SetVersionTemplate("rps v{{.Version}}\n")
	return root
}

func play(ctx context.Context, cfg *config.Config, roomID string, cmd *cobra.Command) error {
	log, err := logging.Quiet(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	path := cfg.IdentityFile
	if path == "" {
		if path, err = identity.DefaultPath(); err != nil {
			return err
		}
	}

	rs, err := cfg.OpenStore(ctx, log)
	if err != nil {
		return err
	}
	defer rs.Close()

	s, err := session.Join(ctx, rs, identity.NewFile(path), roomID,
		session.WithNamespace(cfg.Namespace),
		session.WithCollection(cfg.Collection),
		session.WithLogger(log),
	)
	switch {
	case errors.Is(err, session.ErrEmptyRoomID):
		return errors.New(session.NoticeEnterRoomID)
	case errors.Is(err, session.ErrIdentityPending):
		return errors.New(session.NoticeAuthPending)
	case err != nil:
		return err
	}
	defer s.Close()

	log.Debug("joined", zap.String("room", s.RoomID()), zap.String("identity", s.Identity()))
	err = console.Run(ctx, s, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	if errors.Is(err, console.ErrQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newCode(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	c, err := cfg.RemoteClient(zap.NewNop())
	if err != nil {
		return err
	}
	defer c.Close()

	code, err := c.NewCode(ctx, cfg.Namespace)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
	return err
}
