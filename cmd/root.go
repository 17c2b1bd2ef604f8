// File: cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/activebook/gturn/data"
	"github.com/activebook/gturn/service"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	versionFlag bool

	cfgFile           string // config file path from --config
	appConfigDir      string // calculated config directory path
	appConfigFilePath string // calculated config file path
	debugMode         bool

	// Global logger instance, configured by setupLogging
	logger = service.GetLogger()

	// Global config store, loaded by initConfig
	store *data.ConfigStore

	rootCmd = &cobra.Command{
		Use:   "gturn [prompt]",
		Short: "A CLI tool for streaming LLM turns with retry and history compression",
		Long: `gturn runs single conversation turns against streaming LLM providers.
It assembles provider event streams into ordered text, reasoning and tool
parts, retries rate-limited attempts with backoff, and compresses long
transcript histories into a running summary when they approach the model's
context limit.`,
		Args: cobra.ArbitraryArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if versionFlag {
				fmt.Printf("%s %s\n", cmd.CommandPath(), version)
				return
			}
			if len(args) == 0 && !hasStdinData() {
				cmd.Help()
				return
			}

			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			} else {
				prompt = readStdin()
			}
			if err := runTurn(cmd.Context(), prompt); err != nil {
				service.Errorf("%v\n", err)
				os.Exit(1)
			}
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if appConfigDir != "" {
		if err := os.MkdirAll(appConfigDir, 0750); err != nil {
			service.Errorf("Error creating config directory '%s': %v\n", appConfigDir, err)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		service.Errorf("'%s'\n", err)
		os.Exit(1)
	}
}

func init() {
	initConfigPaths()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is auto-detected)")
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "Enable debug logging (overrides config file level)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	addTurnFlags(rootCmd)
	rootCmd.Flags().BoolVarP(&versionFlag, "version", "v", false, "Print the version number of gturn")

	// Set logrus defaults before configuration is loaded
	service.InitLogger()
}

// initConfigPaths calculates the application's configuration directory and file path.
func initConfigPaths() {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		service.Warnf("Warning: Could not find user config dir, falling back to home directory. %v\n", err)
		userConfigDir, err = homedir.Dir()
		cobra.CheckErr(err)
	}

	appConfigDir = filepath.Join(userConfigDir, "gturn")
	appConfigFilePath = filepath.Join(appConfigDir, "gturn.yaml")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	path := appConfigFilePath
	if cfgFile != "" {
		path = cfgFile
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		// First run: write a commented config so the knobs are discoverable
		if werr := os.WriteFile(path, []byte(data.DefaultConfigYaml), 0640); werr != nil {
			service.Warnf("Could not write default config %s: %v", path, werr)
		}
	}

	store = data.NewConfigStore()
	if err := store.SetConfigFile(path); err != nil {
		service.Errorf("Error reading config file (%s): %v", path, err)
	}

	setupLogging()
}

// setupLogging configures the global logger based on config settings and flags.
func setupLogging() {
	logLevelStr := store.GetLogLevel()

	// Flag overrides config
	level := log.InfoLevel
	if debugMode {
		level = log.DebugLevel
		logLevelStr = "debug"
	} else {
		var err error
		level, err = log.ParseLevel(logLevelStr)
		if err != nil {
			service.Warnf("Invalid log level '%s' in config, using 'info': %v", logLevelStr, err)
			level = log.InfoLevel
		}
	}
	logger.SetLevel(level)

	service.Debugf("Logger initialized: level=%s", logLevelStr)
}
