package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/server"
)

var (
	servePort      int
	serveOutputDir string
	serveDaemon    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [stop|status]",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP server exposing metadata resolution and media retrieval.

Examples:
  vfetch serve              # Start server on port 8080
  vfetch serve -p 9000      # Start server on port 9000
  vfetch serve -d           # Start server as background daemon
  vfetch serve stop         # Stop the daemon
  vfetch serve -o ~/dl      # Use custom output directory

API Endpoints:
  GET    /api/health        # Health check
  POST   /api/info          # Resolve metadata
  POST   /api/download      # Download and return a link
  POST   /api/jobs          # Queue a download
  GET    /api/jobs/:id      # Job status
  DELETE /api/jobs/:id      # Cancel or remove a job
  GET    /api/platforms     # Chains and adapter availability
  GET    /api/playlist      # YouTube playlist entries
  GET    /downloads/:name   # Completed files
  GET    /metrics           # Prometheus metrics`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"stop", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			switch args[0] {
			case "stop":
				return stopDaemon()
			case "status":
				return daemonStatus()
			default:
				return fmt.Errorf("unknown serve action %q", args[0])
			}
		}
		return runServe()
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP listen port (default: 8080)")
	serveCmd.Flags().StringVarP(&serveOutputDir, "output", "o", "", "output directory for downloads")
	serveCmd.Flags().BoolVarP(&serveDaemon, "daemon", "d", false, "run as background daemon")

	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	if serveDaemon {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		outputDir := serveOutputDir
		if outputDir == "" {
			outputDir = cfg.OutputDir
		}
		return startDaemon(port, outputDir)
	}

	sess, err := openSession(prometheus.DefaultRegisterer, false, func(cfg *config.Config) {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveOutputDir != "" {
			cfg.OutputDir = serveOutputDir
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	cfg, logger := sess.cfg, sess.logger
	srv := server.NewServer(sess.orch, server.Options{
		Port:          cfg.Server.Port,
		APIKey:        cfg.Server.APIKey,
		MaxConcurrent: cfg.Server.MaxConcurrent,
		Quality:       cfg.Quality,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
	}, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
	}()

	return srv.Start()
}

func startDaemon(port int, outputDir string) error {
	// Check if already running
	if pid := getDaemonPID(); pid > 0 {
		// Check if process is actually running
		if processExists(pid) {
			return fmt.Errorf("daemon already running (PID %d)", pid)
		}
		// Stale PID file, remove it
		os.Remove(getPIDFilePath())
	}

	// Get the current executable path
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Build arguments
	args := []string{"serve", "-p", strconv.Itoa(port), "-o", outputDir}
	if configFile != "" {
		args = append(args, "--config", configFile)
	}

	// Create log file
	logFile, err := os.OpenFile(getLogFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	// Start the daemon process
	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil

	// Detach from parent
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Save PID
	if err := savePID(cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		logFile.Close()
		return fmt.Errorf("failed to save PID: %w", err)
	}

	fmt.Printf("vfetch server started as daemon (PID %d)\n", cmd.Process.Pid)
	fmt.Printf("  Port: %d\n", port)
	fmt.Printf("  Output: %s\n", outputDir)
	fmt.Printf("  Log: %s\n", getLogFilePath())
	fmt.Printf("\nUse 'vfetch serve stop' to stop the daemon\n")

	return nil
}

func stopDaemon() error {
	pid := getDaemonPID()
	if pid <= 0 {
		return fmt.Errorf("daemon is not running")
	}

	// Send SIGTERM
	process, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(getPIDFilePath())
		return fmt.Errorf("daemon process not found")
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(getPIDFilePath())
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	// Wait for process to exit
	for i := 0; i < 30; i++ {
		if !processExists(pid) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	os.Remove(getPIDFilePath())
	fmt.Println("Daemon stopped")
	return nil
}

func daemonStatus() error {
	pid := getDaemonPID()
	if pid <= 0 {
		fmt.Println("Daemon is not running")
		return nil
	}

	if !processExists(pid) {
		os.Remove(getPIDFilePath())
		fmt.Println("Daemon is not running (stale PID file removed)")
		return nil
	}

	fmt.Printf("Daemon is running (PID %d)\n", pid)
	fmt.Printf("Log file: %s\n", getLogFilePath())
	return nil
}

// Helper functions for PID file management

func getPIDFilePath() string {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "/tmp/vfetch-serve.pid"
	}
	return filepath.Join(configDir, "serve.pid")
}

func getLogFilePath() string {
	configDir, err := config.ConfigDir()
	if err != nil {
		return "/tmp/vfetch-serve.log"
	}
	return filepath.Join(configDir, "serve.log")
}

func savePID(pid int) error {
	pidFile := getPIDFilePath()
	dir := filepath.Dir(pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func getDaemonPID() int {
	data, err := os.ReadFile(getPIDFilePath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0
	}
	return pid
}

func processExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0 to check
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
