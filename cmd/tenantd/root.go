package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tenantd/tenantd/internal/config"
	"github.com/tenantd/tenantd/internal/deploy"
)

const version = "0.1.0"

var (
	configPath string
	dataDir    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "tenantd",
	Short: "Per-tenant coordination daemon",
	Long: "tenantd serializes coordination primitives per tenant: bounded counters,\n" +
		"TTL locks, lease-based job queues, a similarity-searchable memory store and\n" +
		"short links with click analytics, all backed by one SQLite file per tenant.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config path (default: $TENANTD_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory override")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "addr", "", "listen address override")

	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd)
	rootCmd.AddCommand(serveCmd, statusCmd, stopCmd, serviceCmd, versionCmd)
}

// loadConfig resolves the effective configuration: YAML file, then env,
// then command-line flags.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("TENANTD_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	return cfg, cfg.Validate()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tenantd v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/health", cfg.ListenAddr))
		if err != nil {
			return fmt.Errorf("daemon is not running at %s: %w", cfg.ListenAddr, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon returned status %d", resp.StatusCode)
		}
		fmt.Printf("daemon is running at %s\n", cfg.ListenAddr)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running daemon to shut down",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := deploy.StopDaemon(cfg.DataDir); err != nil {
			return err
		}
		fmt.Println("sent SIGTERM to daemon")
		return nil
	},
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the OS service definition",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install tenantd as a user-level OS service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve binary path: %w", err)
		}

		res, err := deploy.Install(deploy.ServiceConfig{
			BinaryPath: bin,
			DataDir:    cfg.DataDir,
			ListenAddr: cfg.ListenAddr,
			ConfigPath: configPath,
		})
		if err != nil {
			return err
		}
		fmt.Println(res.Instructions)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the OS service definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := deploy.Uninstall()
		if err != nil {
			return err
		}
		fmt.Println(res.Instructions)
		return nil
	},
}
