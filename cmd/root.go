package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/specflow/internal/output"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui *output.UI

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Issue-driven spec, plan and task generation with review gates",
	Long: `specflow turns GitHub issues into a specification, an implementation
plan and a task list. Each document is scored by a review gate and can be
held for a human decision in Slack before the next stage runs. The last
stage hands the task list to a coding agent.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/specflow/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SPECFLOW")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers a default for every config key.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "specflow.db"))
	viper.SetDefault("artifacts_dir", "specs")
	viper.SetDefault("port", 8080)
	viper.SetDefault("server_url", "http://localhost:8080")

	viper.SetDefault("slack.bot_token", "")
	viper.SetDefault("slack.signing_secret", "")
	viper.SetDefault("slack.channel", "#dev-team")

	viper.SetDefault("github.token", "")
	viper.SetDefault("github.repo", "")
	viper.SetDefault("github.webhook_secret", "")
	viper.SetDefault("github.comment_on_issue", false)

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("generator.backend", "template")
	viper.SetDefault("generator.prompts_dir", ".gemini/commands")
	viper.SetDefault("generator.timeout", "2m")

	viper.SetDefault("review.mode", "rules")
	viper.SetDefault("review.threshold", 0.75)
	viper.SetDefault("review.auto_approve", false)
	viper.SetDefault("review.secondary", false)
	viper.SetDefault("review.secondary_rules", "")

	viper.SetDefault("workflow.auto_advance", true)
	viper.SetDefault("workflow.hold_stages", []string{})
	viper.SetDefault("workflow.retention", "72h")

	viper.SetDefault("agent.binary", "goose")
	viper.SetDefault("agent.workdir", ".")
	viper.SetDefault("agent.task_timeout", "5m")

	viper.SetDefault("decisions.backend", "sqlite")
	viper.SetDefault("decisions.redis_url", "redis://localhost:6379/0")
	viper.SetDefault("decisions.ttl", "168h")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}
