package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/modelpull/modelpull/internal/config"
	"github.com/modelpull/modelpull/internal/core"
	"github.com/modelpull/modelpull/internal/downloader"
	"github.com/modelpull/modelpull/internal/output"
	"github.com/modelpull/modelpull/internal/paths"
	"github.com/modelpull/modelpull/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "modelpull",
	Short:   "A model download daemon with a single-slot job queue",
	Long:    `modelpull runs a local HTTP daemon that downloads model files into category folders, one transfer at a time with segmented connections.`,
	Version: Version,
	Args:    cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		utils.InitLogger(debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon(cmd)
	},
}

func runDaemon(cmd *cobra.Command) {
	log := utils.GetLogger("daemon")

	isMaster, err := AcquireLock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
		os.Exit(1)
	}
	if !isMaster {
		fmt.Fprintln(os.Stderr, "Error: modelpull is already running.")
		os.Exit(1)
	}
	defer func() {
		if err := ReleaseLock(); err != nil {
			log.Debug().Err(err).Msg("releasing lock")
		}
	}()

	settings, err := config.LoadSettings()
	if err != nil {
		log.Warn().Err(err).Msg("could not load settings, using defaults")
		settings = config.DefaultSettings()
	}

	if portFlag, _ := cmd.Flags().GetInt("port"); portFlag > 0 {
		settings.General.BindPort = portFlag
	}
	if modelsDir, _ := cmd.Flags().GetString("models-dir"); modelsDir != "" {
		settings.General.ModelsRoot = modelsDir
	}

	reg := paths.NewRegistry(settings.General.ModelsRoot)
	if err := seedCategoryDirs(reg); err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing models root: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", settings.General.BindHost, settings.General.BindPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not bind to %s: %v\n", addr, err)
		os.Exit(1)
	}

	manager := downloader.NewManager(downloader.Options{
		Connections:    settings.Connections.PerDownload,
		ChunkThreshold: settings.Chunks.ChunkThreshold,
		WorkerBuffer:   settings.Chunks.WorkerBuffer,
	})
	svc := core.NewLocalDownloadService(manager)

	_, consoleCh, cancelConsole := svc.Subscribe(64)
	defer cancelConsole()
	go output.Consume(consoleCh)

	go startHTTPServer(ln, settings.General.BindPort, svc, reg)

	fmt.Printf("modelpull %s listening on %s\n", Version, addr)
	fmt.Printf("Models root: %s\n", settings.General.ModelsRoot)
	fmt.Println("Press Ctrl+C to exit.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	_ = ln.Close()
	svc.Shutdown()
}

// seedCategoryDirs creates the primary directory of every category so fresh
// installs have real model directories to download into.
func seedCategoryDirs(reg *paths.Registry) error {
	for _, category := range reg.Categories() {
		dirs, ok := reg.Dirs(category)
		if !ok || len(dirs) == 0 {
			continue
		}
		if err := os.MkdirAll(dirs[0], 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides settings)")
	rootCmd.Flags().StringP("models-dir", "m", "", "Models root directory (overrides settings)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
}
