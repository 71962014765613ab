package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldstore/coldstore/pkg/agent"
	"github.com/coldstore/coldstore/pkg/config"
	"github.com/coldstore/coldstore/pkg/log"
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
	Use:   "coldstore-mirror",
	Short: "Coldstore mirror agent",
	Long: `The mirror agent runs on a volunteer node. It pairs with an
origin, keeps a local copy of the files assigned to it, and serves them
to end users under a bandwidth cap.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Coldstore mirror version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setupCmd)
}

func buildAgent(configPath string) (*agent.Agent, *agent.LocalStore, *config.Mirror, error) {
	cfg, err := config.LoadMirror(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %v", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	store, err := agent.NewLocalStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open local storage: %v", err)
	}

	a, err := agent.New(agent.Config{
		OriginURL:         cfg.OriginURL,
		DataDir:           cfg.DataDir,
		ContentDir:        cfg.ContentDir,
		MaxFiles:          cfg.MaxFiles,
		DownloadRate:      cfg.DownloadRate,
		HeartbeatInterval: cfg.HeartbeatInterval.Std(),
	}, store)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return a, store, cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mirror agent",
	Long: `Run the mirror agent: heartbeat sender, sync receiver and the
public download endpoint. An unpaired agent still starts and accepts
POST /pair, so a mirror can be admitted without restarting it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		a, store, cfg, err := buildAgent(configPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := a.Start(); err != nil {
			return err
		}
		if a.Paired() {
			fmt.Printf("✓ Agent started (mirror %s)\n", a.MirrorID())
		} else {
			fmt.Println("Agent started unpaired. Pair it with POST /pair or 'coldstore-mirror setup'.")
		}

		server := agent.NewServer(a, cfg.ListenAddr)
		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("server error: %v", err)
			}
		}()

		fmt.Printf("\nMirror is running on %s. Press Ctrl+C to stop.\n", cfg.ListenAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		a.Stop()
		if err := server.Stop(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Pair this mirror with an origin",
	Long: `Write a starter config file if none exists, then redeem a pairing
code at the origin and persist the credential it returns. Pairing is
one-time: the stored credential identifies this mirror from then on.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		originURL, _ := cmd.Flags().GetString("origin-url")
		code, _ := cmd.Flags().GetString("code")
		name, _ := cmd.Flags().GetString("name")
		directURL, _ := cmd.Flags().GetString("direct-url")
		tunnelURL, _ := cmd.Flags().GetString("tunnel-url")

		if code == "" || name == "" || directURL == "" {
			return fmt.Errorf("--code, --name and --direct-url are required")
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if originURL == "" {
				return fmt.Errorf("--origin-url is required when %s does not exist yet", configPath)
			}
			cfg := config.DefaultMirror()
			cfg.OriginURL = originURL
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Printf("✓ Wrote starter config %s\n", configPath)
		}

		a, store, _, err := buildAgent(configPath)
		if err != nil {
			return err
		}
		defer store.Close()

		if a.Paired() {
			return fmt.Errorf("mirror is already paired (mirror %s)", a.MirrorID())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := a.Pair(ctx, code, name, directURL, tunnelURL); err != nil {
			return fmt.Errorf("pairing failed: %v", err)
		}

		fmt.Printf("✓ Paired with origin (mirror %s)\n", a.MirrorID())
		fmt.Println("The mirror is pending approval by the origin operator.")
		return nil
	},
}

func init() {
	runCmd.Flags().String("config", "", "Path to mirror config file")

	setupCmd.Flags().String("config", "mirror.yaml", "Path to mirror config file, created if missing")
	setupCmd.Flags().String("origin-url", "", "Origin server URL, written into a fresh config")
	setupCmd.Flags().String("code", "", "Pairing code issued by the origin operator")
	setupCmd.Flags().String("name", "", "Human-readable mirror name")
	setupCmd.Flags().String("direct-url", "", "Publicly reachable URL of this mirror")
	setupCmd.Flags().String("tunnel-url", "", "Tunnel URL, used instead of the direct URL when set")
}
