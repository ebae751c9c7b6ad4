package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tasktrack/internal/devserver"
)

var (
	serveAddr   string
	serveDBPath string
	serveSeed   bool
	serveStrict bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference tracker backend",
	Long: `Run a local tracker backend backed by SQLite.

It serves the task endpoints the client uses, authenticates bearer tokens,
and enforces the same capability and transition rules server side. With
--strict-terminal it also refuses transitions out of COMPLETED and
CANCELLED, which is how a server-side rejection can be tried out.

Use --seed to create demo users (tokens admin-token, pm-token, lead-token,
dev-token, dev2-token, guest-token) and project P-1.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, dbPath, strict := serveAddr, serveDBPath, serveStrict
		if Config != nil {
			if !cmd.Flags().Changed("addr") && Config.Server.Addr != "" {
				addr = Config.Server.Addr
			}
			if !cmd.Flags().Changed("db") && Config.Server.DBPath != "" {
				dbPath = Config.Server.DBPath
			}
			if !cmd.Flags().Changed("strict-terminal") {
				strict = Config.Server.StrictTerminal
			}
		}
		if !filepath.IsAbs(dbPath) && BasePath != "" {
			dbPath = filepath.Join(BasePath, dbPath)
		}

		ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := devserver.OpenStore(ctx, dbPath)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer store.Close()

		if serveSeed {
			if err := devserver.Seed(ctx, store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded demo data into %s\n", dbPath)
		}

		srv := devserver.NewServer(store, devserver.Options{Logger: Logger, StrictTerminal: strict})
		fmt.Fprintf(cmd.OutOrStdout(), "Serving tracker API on %s/api (db: %s)\n", addr, dbPath)
		return srv.ListenAndServe(ctx, addr)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users, a project and tasks in the backend database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := serveDBPath
		if !cmd.Flags().Changed("db") && Config != nil && Config.Server.DBPath != "" {
			dbPath = Config.Server.DBPath
		}
		if !filepath.IsAbs(dbPath) && BasePath != "" {
			dbPath = filepath.Join(BasePath, dbPath)
		}
		return seedDatabase(commandContext(cmd), dbPath, cmd)
	},
}

func seedDatabase(ctx context.Context, dbPath string, cmd *cobra.Command) error {
	store, err := devserver.OpenStore(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	if err := devserver.Seed(ctx, store); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded demo data into %s\n", dbPath)
	for _, su := range devserver.SeedUsers {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-8s %-16s token %s\n", su.User.ID, su.User.Role, su.Token)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "tasktrack.sqlite", "SQLite database path")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Seed demo data before serving")
	serveCmd.Flags().BoolVar(&serveStrict, "strict-terminal", false, "Refuse transitions out of COMPLETED and CANCELLED")
	seedCmd.Flags().StringVar(&serveDBPath, "db", "tasktrack.sqlite", "SQLite database path")
	serveCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(serveCmd)
}
