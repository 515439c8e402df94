package root

import (
	"pkgkeeper/internal/config"
	"pkgkeeper/internal/env"
	"pkgkeeper/internal/logger"

	"github.com/spf13/cobra"
)

var (
	configFile string
	workDir    string
	logLevel   string
)

var RootCmd = &cobra.Command{
	Use:           "pkgkeeper",
	Short:         "Local package manager with rollback snapshots",
	Long:          `pkgkeeper creates, upgrades, rolls back and publishes packages of a working copy against authenticated package repositories`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		if workDir != "" {
			cfg.Paths.WorkDir = workDir
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		config.SetApp(cfg)
		logger.InitLogger(cfg.Log.Path, cfg.Log.Level, env.ServerMode, cfg.Log.MaxSize)
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml or ~/.pkgkeeper/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "w", "", "working copy root (overrides paths.work_dir)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}
