package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldstore/coldstore/pkg/api"
	"github.com/coldstore/coldstore/pkg/catalog"
	"github.com/coldstore/coldstore/pkg/config"
	"github.com/coldstore/coldstore/pkg/events"
	"github.com/coldstore/coldstore/pkg/heartbeat"
	"github.com/coldstore/coldstore/pkg/log"
	"github.com/coldstore/coldstore/pkg/metrics"
	"github.com/coldstore/coldstore/pkg/orchestrator"
	"github.com/coldstore/coldstore/pkg/pairing"
	"github.com/coldstore/coldstore/pkg/registry"
	"github.com/coldstore/coldstore/pkg/storage"
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
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coldstore",
	Short: "Coldstore - archival file network origin",
	Long: `Coldstore is the origin server of an archival file network.

It owns the file catalog and replicates approved content across a fleet
of volunteer mirrors, keeping the most popular files closest to users.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Coldstore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pairingCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(catalogCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the origin server",
	Long: `Run the origin server: API surface, pairing service, heartbeat
monitor and sync orchestrator, backed by an embedded database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.LoadOrigin(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}
		if cfg.AdminToken == "" {
			return fmt.Errorf("admin_token must be set in the config")
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage: %v", err)
		}
		defer store.Close()

		library, err := catalog.NewLibrary(store, cfg.ContentDir)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %v", err)
		}

		broker := events.NewBroker()
		broker.Start()
		fmt.Println("✓ Event broker started")

		collector := metrics.NewCollector(store)
		collector.Start()

		reg := registry.NewRegistry(store, broker)

		pairingSvc := pairing.NewService(store, broker, cfg.PairingTTL.Std(), cfg.PairingMaxOutstanding)
		pairingSvc.Start()
		fmt.Println("✓ Pairing service started")

		monitor := heartbeat.NewMonitor(reg, cfg.HeartbeatTimeout.Std())
		monitor.Start()
		fmt.Println("✓ Heartbeat monitor started")

		syncClient := orchestrator.NewHTTPSyncClient(cfg.SyncTimeout.Std())
		orch := orchestrator.NewOrchestrator(store, library, syncClient, broker, cfg.SyncInterval.Std())
		orch.Start()
		fmt.Println("✓ Sync orchestrator started")

		server := api.NewServer(api.Deps{
			Store:        store,
			Registry:     reg,
			Pairing:      pairingSvc,
			Monitor:      monitor,
			Orchestrator: orch,
			Catalog:      library,
		}, cfg.ListenAddr, cfg.AdminToken)

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()

		fmt.Printf("\nOrigin is running on %s. Press Ctrl+C to stop.\n", cfg.ListenAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		orch.Stop()
		monitor.Stop()
		pairingSvc.Stop()
		collector.Stop()
		broker.Stop()
		if err := server.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var pairingCmd = &cobra.Command{
	Use:   "pairing",
	Short: "Manage pairing codes",
}

var pairingIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new pairing code",
	Long: `Issue a single-use pairing code to hand to a mirror operator
out-of-band. The code expires if not redeemed in time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)

		var resp struct {
			Code      string `json:"code"`
			ExpiresAt string `json:"expires_at"`
		}
		if err := client.post("/api/pairing-codes", nil, &resp); err != nil {
			return err
		}

		fmt.Printf("Pairing code: %s\n", resp.Code)
		fmt.Printf("Expires at:   %s\n", resp.ExpiresAt)
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage the mirror fleet",
}

var mirrorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mirrors",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)

		var mirrors []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Status    string `json:"status"`
			Endpoint  string `json:"endpoint"`
			FileCount int    `json:"file_count"`
			MaxFiles  int    `json:"max_files"`
		}
		if err := client.get("/api/mirrors", &mirrors); err != nil {
			return err
		}

		if len(mirrors) == 0 {
			fmt.Println("No mirrors registered.")
			return nil
		}

		fmt.Printf("%-38s %-20s %-10s %-12s %s\n", "ID", "NAME", "STATUS", "FILES", "ENDPOINT")
		for _, m := range mirrors {
			fmt.Printf("%-38s %-20s %-10s %-12s %s\n",
				m.ID, m.Name, m.Status,
				fmt.Sprintf("%d/%d", m.FileCount, m.MaxFiles),
				m.Endpoint)
		}
		return nil
	},
}

var mirrorApproveCmd = &cobra.Command{
	Use:   "approve MIRROR_ID",
	Short: "Approve a pending mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)
		if err := client.post("/api/mirrors/"+args[0]+"/approve", nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Mirror %s approved\n", args[0])
		return nil
	},
}

var mirrorRejectCmd = &cobra.Command{
	Use:   "reject MIRROR_ID",
	Short: "Reject a pending mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)
		if err := client.post("/api/mirrors/"+args[0]+"/reject", nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Mirror %s rejected\n", args[0])
		return nil
	},
}

var mirrorSyncCmd = &cobra.Command{
	Use:   "sync MIRROR_ID",
	Short: "Trigger an out-of-cycle sync for a mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)
		if err := client.post("/api/mirrors/"+args[0]+"/trigger-sync", nil, nil); err != nil {
			return err
		}
		fmt.Printf("✓ Sync started for mirror %s\n", args[0])
		return nil
	},
}

var mirrorLogsCmd = &cobra.Command{
	Use:   "logs MIRROR_ID",
	Short: "Show recent sync activity for a mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClientFromFlags(cmd)
		limit, _ := cmd.Flags().GetInt("limit")

		var logs []struct {
			Seq       uint64 `json:"Seq"`
			EntryID   string `json:"EntryID"`
			Action    string `json:"Action"`
			Detail    string `json:"Detail"`
			CreatedAt string `json:"CreatedAt"`
		}
		if err := client.get(fmt.Sprintf("/api/mirrors/%s/logs?limit=%d", args[0], limit), &logs); err != nil {
			return err
		}

		if len(logs) == 0 {
			fmt.Println("No sync activity recorded.")
			return nil
		}
		for _, l := range logs {
			fmt.Printf("%-30s %-12s %-38s %s\n", l.CreatedAt, l.Action, l.EntryID, l.Detail)
		}
		return nil
	},
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the file catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import a file into the catalog",
	Long: `Import a local file into the catalog as an approved entry. The
content is hashed and copied into the content directory.

Run this against the data directory while the server is stopped; the
embedded database takes an exclusive lock.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		name, _ := cmd.Flags().GetString("name")

		cfg, err := config.LoadOrigin(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %v", err)
		}

		log.Init(log.Config{Level: "warn"})

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open storage: %v", err)
		}
		defer store.Close()

		library, err := catalog.NewLibrary(store, cfg.ContentDir)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %v", err)
		}

		entry, err := library.Import(args[0], name)
		if err != nil {
			return fmt.Errorf("import failed: %v", err)
		}

		fmt.Printf("✓ Imported %s\n", entry.Name)
		fmt.Printf("  ID:     %s\n", entry.ID)
		fmt.Printf("  SHA256: %s\n", entry.Hash)
		fmt.Printf("  Size:   %d bytes\n", entry.Size)
		return nil
	},
}

func init() {
	pairingCmd.AddCommand(pairingIssueCmd)
	mirrorCmd.AddCommand(mirrorListCmd)
	mirrorCmd.AddCommand(mirrorApproveCmd)
	mirrorCmd.AddCommand(mirrorRejectCmd)
	mirrorCmd.AddCommand(mirrorSyncCmd)
	mirrorCmd.AddCommand(mirrorLogsCmd)
	catalogCmd.AddCommand(catalogImportCmd)

	serveCmd.Flags().String("config", "", "Path to origin config file")

	for _, c := range []*cobra.Command{pairingIssueCmd, mirrorListCmd, mirrorApproveCmd, mirrorRejectCmd, mirrorSyncCmd, mirrorLogsCmd} {
		c.Flags().String("server", "http://127.0.0.1:8080", "Origin server address")
		c.Flags().String("admin-token", "", "Admin API token (or COLDSTORE_ADMIN_TOKEN)")
	}
	mirrorLogsCmd.Flags().Int("limit", 50, "Maximum log entries to show")

	catalogImportCmd.Flags().String("config", "", "Path to origin config file")
	catalogImportCmd.Flags().String("name", "", "Display name (defaults to the file name)")
}
