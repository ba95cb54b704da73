package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

// envKeyReplacer maps nested keys to env names: slack.bot_token -> SPECFLOW_SLACK_BOT_TOKEN.
var envKeyReplacer = strings.NewReplacer(".", "_")

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "specflow"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage specflow configuration.

Running bare 'specflow config' is the same as 'specflow config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# specflow configuration
# See: specflow config show (for effective values and sources)

# SQLite database for approval decisions and the stage-run log
# db_path: {{ .DBPath }}

# Generated documents land in <artifacts_dir>/<issue>-<title>/
artifacts_dir: "{{ .ArtifactsDir }}"

# HTTP port for 'specflow serve'
port: {{ .Port }}

slack:
  # Leave empty to log notifications instead of posting them
  bot_token: ""
  signing_secret: ""
  channel: "{{ .SlackChannel }}"

github:
  token: ""
  # owner/name
  repo: "{{ .GitHubRepo }}"
  webhook_secret: ""
  # Post each stage outcome as an issue comment
  comment_on_issue: {{ .CommentOnIssue }}

anthropic:
  api_key: ""
  model: "{{ .AnthropicModel }}"

generator:
  # template, anthropic or promptfile
  backend: "{{ .GeneratorBackend }}"
  prompts_dir: "{{ .PromptsDir }}"
  timeout: "{{ .GeneratorTimeout }}"

review:
  # rules or llm
  mode: "{{ .ReviewMode }}"
  threshold: {{ .ReviewThreshold }}
  auto_approve: false
  # Advisory compliance rules, logged only
  secondary: false
  secondary_rules: ""

workflow:
  # Advance automatically when a review passes, except at hold_stages
  auto_advance: {{ .AutoAdvance }}
  # Stages that wait for a human even after a passing review, e.g. ["plan"]
  hold_stages: [{{ .HoldStages }}]
  # Finished workflows are evicted from memory after this long
  retention: "{{ .Retention }}"

agent:
  binary: "{{ .AgentBinary }}"
  workdir: "."
  task_timeout: "{{ .AgentTaskTimeout }}"

decisions:
  # sqlite or redis
  backend: "{{ .DecisionsBackend }}"
  redis_url: "{{ .RedisURL }}"
  ttl: "{{ .DecisionsTTL }}"

log:
  level: "{{ .LogLevel }}"
  # text or json
  format: "{{ .LogFormat }}"
`

type configTemplateData struct {
	DBPath           string
	ArtifactsDir     string
	Port             int
	SlackChannel     string
	GitHubRepo       string
	CommentOnIssue   bool
	AnthropicModel   string
	GeneratorBackend string
	PromptsDir       string
	GeneratorTimeout string
	ReviewMode       string
	ReviewThreshold  float64
	AutoAdvance      bool
	HoldStages       string
	Retention        string
	AgentBinary      string
	AgentTaskTimeout string
	DecisionsBackend string
	RedisURL         string
	DecisionsTTL     string
	LogLevel         string
	LogFormat        string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	holds := viper.GetStringSlice("workflow.hold_stages")
	quoted := make([]string, len(holds))
	for i, h := range holds {
		quoted[i] = fmt.Sprintf("%q", h)
	}

	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		ArtifactsDir:     viper.GetString("artifacts_dir"),
		Port:             viper.GetInt("port"),
		SlackChannel:     viper.GetString("slack.channel"),
		GitHubRepo:       viper.GetString("github.repo"),
		CommentOnIssue:   viper.GetBool("github.comment_on_issue"),
		AnthropicModel:   viper.GetString("anthropic.model"),
		GeneratorBackend: viper.GetString("generator.backend"),
		PromptsDir:       viper.GetString("generator.prompts_dir"),
		GeneratorTimeout: viper.GetString("generator.timeout"),
		ReviewMode:       viper.GetString("review.mode"),
		ReviewThreshold:  viper.GetFloat64("review.threshold"),
		AutoAdvance:      viper.GetBool("workflow.auto_advance"),
		HoldStages:       strings.Join(quoted, ", "),
		Retention:        viper.GetString("workflow.retention"),
		AgentBinary:      viper.GetString("agent.binary"),
		AgentTaskTimeout: viper.GetString("agent.task_timeout"),
		DecisionsBackend: viper.GetString("decisions.backend"),
		RedisURL:         viper.GetString("decisions.redis_url"),
		DecisionsTTL:     viper.GetString("decisions.ttl"),
		LogLevel:         viper.GetString("log.level"),
		LogFormat:        viper.GetString("log.format"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	return nil
}

// configKeys lists every key shown by 'config show', in display order.
var configKeys = []string{
	"state_dir", "db_path", "artifacts_dir", "port", "server_url",
	"slack.bot_token", "slack.signing_secret", "slack.channel",
	"github.token", "github.repo", "github.webhook_secret", "github.comment_on_issue",
	"anthropic.api_key", "anthropic.model",
	"generator.backend", "generator.prompts_dir", "generator.timeout",
	"review.mode", "review.threshold", "review.auto_approve", "review.secondary", "review.secondary_rules",
	"workflow.auto_advance", "workflow.hold_stages", "workflow.retention",
	"agent.binary", "agent.workdir", "agent.task_timeout",
	"decisions.backend", "decisions.redis_url", "decisions.ttl",
	"log.level", "log.format",
}

// secretKeys are masked in 'config show'.
var secretKeys = map[string]bool{
	"slack.bot_token":       true,
	"slack.signing_secret":  true,
	"github.token":          true,
	"github.webhook_secret": true,
	"anthropic.api_key":     true,
}

// envVarFor returns the environment variable that overrides key.
func envVarFor(key string) string {
	return "SPECFLOW_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		cfgPath = used
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, key := range configKeys {
		val := fmt.Sprint(viper.Get(key))
		if secretKeys[key] {
			val = maskSecret(val)
		}
		source := detectSource(key, envVarFor(key), fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", key, val, source)
	}

	return nil
}

func maskSecret(v string) string {
	switch {
	case v == "":
		return ""
	case len(v) <= 8:
		return "****"
	default:
		return v[:4] + "****"
	}
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'specflow config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
