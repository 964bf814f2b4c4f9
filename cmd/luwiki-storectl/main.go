// Command luwiki-storectl is an operator tool for the content storage
// engine: bootstrap a fresh store, seed it from a YAML manifest, sweep
// expired locks, and compact page history. It talks to pkg/storage
// directly — there is no server to connect to, and none of these
// subcommands touch HTTP routing or request authentication.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kwgt/luwiki-sub000/pkg/log"
	"github.com/kwgt/luwiki-sub000/pkg/metrics"
	"github.com/kwgt/luwiki-sub000/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(fmt.Sprintf("command failed: %v", err))
	}
}

var rootCmd = &cobra.Command{
	Use:     "luwiki-storectl",
	Short:   "Operator tool for the luwiki content storage engine",
	Version: Version,
	Long: `luwiki-storectl drives the content storage engine directly for
bootstrap, seeding and maintenance. It is not the wiki's request-serving
front-end: no HTTP routing, no request authentication, no full-text
search live here.`,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"luwiki-storectl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("db", "./luwiki.db", "Path to the bbolt database file")
	rootCmd.PersistentFlags().String("assets", "./luwiki-assets", "Path to the asset storage root")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(statusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openManager opens the store at the --db/--assets flags shared by every
// subcommand.
func openManager(cmd *cobra.Command) (*storage.Manager, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	assetRoot, _ := cmd.Flags().GetString("assets")
	log.Debug(fmt.Sprintf("opening store db=%s assets=%s", dbPath, assetRoot))
	return storage.Open(dbPath, assetRoot)
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create or open the store and ensure the default root page and admin user exist",
	Long: `Bootstrap opens (creating if necessary) the database and asset root,
installs the default root page if absent, and ensures the named admin
account exists. Safe to run repeatedly against an already-bootstrapped
store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		adminUser, _ := cmd.Flags().GetString("admin-user")
		adminPassword, _ := cmd.Flags().GetString("admin-password")

		if adminUser == "" || adminPassword == "" {
			return fmt.Errorf("--admin-user and --admin-password are required")
		}

		m, err := openManager(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer m.Close()

		if _, err := m.GetUserByUsername(adminUser); err != nil {
			if _, err := m.AddUser(adminUser, adminPassword, adminUser); err != nil {
				return fmt.Errorf("create admin user: %w", err)
			}
			log.WithUserID(adminUser).Info().Msg("admin user created")
			fmt.Printf("✓ Admin user created: %s\n", adminUser)
		} else {
			fmt.Printf("Admin user already exists: %s\n", adminUser)
		}

		if err := m.EnsureDefaultRoot(adminUser); err != nil {
			return fmt.Errorf("ensure default root: %w", err)
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "bootstrapped")

		fmt.Println("✓ Store bootstrapped")
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().String("admin-user", "", "Username for the bootstrap admin account (required)")
	bootstrapCmd.Flags().String("admin-password", "", "Password for the bootstrap admin account (required)")
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Lock maintenance",
}

var locksSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired locks and report how many were removed",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer m.Close()

		n, err := m.CleanupExpiredLocks()
		if err != nil {
			return fmt.Errorf("sweep expired locks: %w", err)
		}

		log.Info(fmt.Sprintf("removed %d expired lock(s)", n))
		fmt.Printf("✓ Removed %d expired lock(s)\n", n)
		return nil
	},
}

func init() {
	locksCmd.AddCommand(locksSweepCmd)
}

var compactCmd = &cobra.Command{
	Use:   "compact PAGE-PATH",
	Short: "Drop page revisions older than --keep-from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		keepFrom, _ := cmd.Flags().GetUint64("keep-from")
		if keepFrom == 0 {
			return fmt.Errorf("--keep-from is required and must be >= 1")
		}

		m, err := openManager(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer m.Close()

		id, err := m.GetPageIDByPath(path)
		if err != nil {
			return fmt.Errorf("find page %q: %w", path, err)
		}

		if err := m.CompactPageSource(id, keepFrom); err != nil {
			return fmt.Errorf("compact page %q: %w", path, err)
		}

		log.WithPageID(path).Info().Uint64("keep_from", keepFrom).Msg("compacted page revisions")
		metrics.UpdateComponent("store", true, fmt.Sprintf("compacted %s", path))

		fmt.Printf("✓ Compacted %s, keeping revisions from %d onward\n", path, keepFrom)
		return nil
	},
}

func init() {
	compactCmd.Flags().Uint64("keep-from", 0, "Earliest revision to retain (required)")
}

// statusCmd has no HTTP server of its own to mount /health on, so it
// registers the store and asset root with the health checker itself and
// prints the aggregated status. An embedding caller that wants this over
// HTTP registers the same components and serves metrics.GetHealth().
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report store and asset-root health as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		metrics.SetVersion(Version)

		assetRoot, _ := cmd.Flags().GetString("assets")

		m, err := openManager(cmd)
		if err != nil {
			metrics.RegisterComponent("store", false, err.Error())
			log.Errorf("store unhealthy", err)
		} else {
			defer m.Close()
			metrics.RegisterComponent("store", true, "open")
		}

		if info, statErr := os.Stat(assetRoot); statErr != nil || !info.IsDir() {
			msg := "not a directory"
			if statErr != nil {
				msg = statErr.Error()
				log.Errorf("asset_root unhealthy", statErr)
			} else {
				log.Error("asset_root unhealthy: " + msg)
			}
			metrics.RegisterComponent("asset_root", false, msg)
		} else {
			metrics.RegisterComponent("asset_root", true, "writable")
		}

		out, err := json.MarshalIndent(metrics.GetHealth(), "", "  ")
		if err != nil {
			return fmt.Errorf("marshal health: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
