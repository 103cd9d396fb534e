// Package main provides the entry point for the voxproxy agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/voxproxy/internal/agent"
	"github.com/dgnsrekt/voxproxy/internal/audio"
	"github.com/dgnsrekt/voxproxy/internal/realtime"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	listenAddr   string
	upstreamURL  string
	realtimeURL  string
	manifestPath string
	cacheDir     string
	noAudio      bool

	rootCmd = &cobra.Command{
		Use:   "voxproxy",
		Short: "Offline caching agent and speech playback for the chat client",
		Long: "\nvoxproxy sits between the chat page and the network: it serves the " +
			"page's assets from a versioned offline store and plays streamed " +
			"speech chunks in strict arrival order.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOptions()
		},
		RunE: runServe,
	}

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Fetch the install manifest into a fresh store generation",
		Long: "\nFetch every asset in the install manifest into a new store " +
			"generation and activate it, deleting all previous generations. " +
			"The install is all-or-nothing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig()
			if err != nil {
				return err
			}
			a, err := agent.New(cfg, log.Default())
			if err != nil {
				return err
			}
			return a.Install(cmd.Context())
		},
	}

	manCmd = &cobra.Command{
		Use:    "man",
		Short:  "Generate man pages",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(*cobra.Command, []string) error {
			manPage, err := mcobra.NewManPage(1, rootCmd)
			if err != nil {
				return fmt.Errorf("unable to generate man page: %w", err)
			}
			manPage = manPage.WithSection("Copyright", "(c) 2025 voxproxy authors.\nReleased under MIT license.")
			fmt.Println(manPage.Build(roff.NewDocument()))
			return nil
		},
	}
)

// validateOptions syncs config-file values into the option variables.
// Bound flags take precedence through viper.
func validateOptions() error {
	listenAddr = viper.GetString("listen")
	upstreamURL = viper.GetString("upstream")
	realtimeURL = viper.GetString("realtime_url")
	manifestPath = viper.GetString("manifest")
	cacheDir = viper.GetString("cache_dir")
	noAudio = !viper.GetBool("audio")
	return nil
}

// buildConfig assembles the agent configuration: env defaults first,
// then config file and flags on top.
func buildConfig() (agent.Config, error) {
	cfg, err := env.ParseAs[agent.Config]()
	if err != nil {
		return agent.Config{}, fmt.Errorf("error parsing config: %v", err)
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if upstreamURL != "" {
		cfg.UpstreamURL = upstreamURL
	}
	if realtimeURL != "" {
		cfg.RealtimeURL = realtimeURL
	}
	if manifestPath != "" {
		cfg.ManifestPath = manifestPath
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if prefixes := viper.GetStringSlice("bypass_prefixes"); len(prefixes) > 0 {
		cfg.BypassPrefixes = prefixes
	}
	if viper.IsSet("compression") {
		cfg.CompressionLevel = viper.GetInt("compression")
	}
	cfg.InstallRatePerSecond = viper.GetInt("install_rate")
	if noAudio {
		cfg.AudioEnabled = false
	}
	return cfg, nil
}

func runServe(*cobra.Command, []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	a, err := agent.New(cfg, log.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RealtimeURL != "" {
		var sink audio.Sink
		if cfg.AudioEnabled {
			sink, err = audio.NewOtoSink()
			if err != nil {
				log.Warn("audio device unavailable, playback disabled", "err", err)
				sink = audio.NewMockSink()
			}
		} else {
			sink = audio.NewMockSink()
		}

		engine := audio.NewEngine(audio.NewPCMDecoder(), sink, log.Default())
		defer engine.Close()

		client := realtime.NewClient(cfg.RealtimeURL, nil, engine, log.Default())
		go func() {
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("realtime channel terminated", "err", err)
			}
		}()
	}

	return a.Serve(ctx)
}

// setupLog configures the global logger. With a logfile set, output
// goes there; otherwise it stays on stderr.
func setupLog() (func() error, error) {
	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	logFile := viper.GetString("log_file")
	if logFile == "" {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return f.Close, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", "", "local address to serve the page on")
	rootCmd.PersistentFlags().StringVarP(&upstreamURL, "upstream", "u", "", "chat application origin")
	rootCmd.PersistentFlags().StringVar(&realtimeURL, "realtime-url", "", "realtime channel websocket URL")
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "", "install manifest path")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "store directory (empty keeps stores in memory)")
	rootCmd.PersistentFlags().BoolVar(&noAudio, "no-audio", false, "disable audio device output")

	// Config bindings
	_ = viper.BindPFlag("listen", rootCmd.PersistentFlags().Lookup("listen"))
	_ = viper.BindPFlag("upstream", rootCmd.PersistentFlags().Lookup("upstream"))
	_ = viper.BindPFlag("realtime_url", rootCmd.PersistentFlags().Lookup("realtime-url"))
	_ = viper.BindPFlag("manifest", rootCmd.PersistentFlags().Lookup("manifest"))
	_ = viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))

	viper.SetDefault("listen", "127.0.0.1:8913")
	viper.SetDefault("audio", true)
	viper.SetDefault("compression", 3)
	viper.SetDefault("install_rate", 0)
	viper.SetDefault("bypass_prefixes", []string{"/api/", "/auth/", "/socket.io/"})

	rootCmd.AddCommand(installCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "voxproxy")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "voxproxy")}, dirs...)
	}

	if c := os.Getenv("VOXPROXY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("voxproxy")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("voxproxy")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "voxproxy.yml")
	}
}
