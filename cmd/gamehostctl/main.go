package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	config "github.com/avvvet/gamehost-services/configs"
	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/ctl"
	"github.com/avvvet/gamehost-services/internal/gamesvc/allocator"
	settings "github.com/avvvet/gamehost-services/internal/gamesvc/config"
	"github.com/avvvet/gamehost-services/internal/gamesvc/db"
	"github.com/avvvet/gamehost-services/internal/gamesvc/runtime"
	"github.com/avvvet/gamehost-services/internal/gamesvc/store"
	"github.com/avvvet/gamehost-services/internal/gamesvc/versions"
)

func main() {
	config.LoadEnv("gamehostctl")
	log.SetLevel(log.WarnLevel)

	root := &cobra.Command{
		Use:           "gamehostctl",
		Short:         "Operator tool for the game host services",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var debug bool
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}
	}

	root.AddCommand(migrateCmd(), gamesCmd(), versionsCmd(), pruneCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect() (*settings.Config, *pgxpool.Pool, error) {
	cfg, err := settings.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequirePostgres(); err != nil {
		return nil, nil, err
	}
	pool, err := db.Connect(cfg.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func gamesCmd() *cobra.Command {
	games := &cobra.Command{Use: "games", Short: "Inspect games"}
	games.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List games with their live container state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()

			list, err := store.NewGameStore(pool).ListGames(cmd.Context())
			if err != nil {
				return err
			}

			namer := allocator.NewNamer(cfg.Namespace)
			docker := runtime.NewDocker(cfg.DockerBin, cfg.RuntimeTimeout, cfg.DockerEcho)
			containers, err := docker.List(cmd.Context(), "^/?"+regexp.QuoteMeta(namer.ContainerName("")))
			if err != nil {
				return err
			}
			states := map[string]string{}
			for _, c := range containers {
				if name, ok := namer.GameName(c.Name); ok {
					states[name] = c.Status
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tOWNER\tVERSION\tTCP\tUDP\tSTATUS")
			for _, g := range list {
				owner := fmt.Sprint(g.CreatorID)
				if g.Creator != nil {
					owner = g.Creator.Username
				}
				status, ok := states[g.Name]
				if !ok {
					status = "missing"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n", g.ID, g.Name, owner, g.Version, g.TCPPort, g.UDPPort, status)
			}
			return w.Flush()
		},
	})
	return games
}

func versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List the image versions that games can run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load()
			if err != nil {
				return err
			}

			var cache versions.Cache
			if cfg.RedisURL != "" {
				redisCache, err := versions.NewRedisCache(cfg.RedisURL)
				if err != nil {
					log.Warnf("versions cache disabled: %v", err)
				} else {
					defer redisCache.Close()
					cache = redisCache
				}
			}

			list, err := versions.NewLister(cfg.GameImage, cache, cfg.VersionsCacheTTL).Versions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(list, "\n"))
			return nil
		},
	}
}

// logEvents prints drift found during a one-shot run instead of publishing it.
type logEvents struct{}

func (logEvents) PublishEvent(eventType string, event comm.GameEvent) {
	log.Warnf("%s: game %d (%s): %s", eventType, event.GameID, event.Name, event.Reason)
}

func pruneCmd() *cobra.Command {
	var grace time.Duration
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale sessions and namespace containers that have no game",
		Long: "prune runs the controller pass twice, grace apart. Only containers that are orphaned " +
			"on both passes are removed, so games that are being created are left alone. " +
			"grace is raised to at least four runtime timeouts.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect()
			if err != nil {
				return err
			}
			defer pool.Close()

			if floor := ctl.OrphanGrace(cfg.RuntimeTimeout); grace < floor {
				if cmd.Flags().Changed("grace") {
					fmt.Fprintf(cmd.ErrOrStderr(), "grace %s is shorter than a create can take, using %s\n", grace, floor)
				}
				grace = floor
			}

			controller := ctl.NewController(
				store.NewSessionStore(pool),
				store.NewGameStore(pool),
				runtime.NewDocker(cfg.DockerBin, cfg.RuntimeTimeout, cfg.DockerEcho),
				logEvents{},
				allocator.NewNamer(cfg.Namespace),
				!dryRun,
			).WithOrphanGrace(grace)

			first, err := controller.Tick(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "removed %d stale sessions\n", first.StaleSessions)
			if len(first.Orphans) == 0 {
				fmt.Fprintln(out, "no orphan containers")
				return nil
			}
			if dryRun {
				fmt.Fprintf(out, "orphan containers: %s\n", strings.Join(first.Orphans, ", "))
				return nil
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(grace):
			}

			second, err := controller.Tick(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "pruned %d orphan containers: %s\n", len(second.Pruned), strings.Join(second.Pruned, ", "))
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 0, "time between the two passes (default four runtime timeouts)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report orphans")
	return cmd
}
