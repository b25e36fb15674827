package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidmoltin/ai-action-queue/internal/cli"
)

var (
	cfgFile    string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "aiq",
	Short: "AI action queue CLI - schedule, inspect and run CRM AI actions",
	Long: `The aiq CLI talks to the AI action queue API to manage scheduled actions,
inspect the execution queue and its dead letter queue, read the audit log
and run actions on demand.

Examples:
  aiq schedules list --status active
  aiq schedules create -f follow-up.yaml
  aiq queue dlq
  aiq queue retry <item-id>
  aiq audit list --action ai_score_lead --limit 20
  aiq actions execute ai_score_lead --entity-type lead --entity-id L-42`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aiq.yaml)")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "API base URL")
	rootCmd.PersistentFlags().String("api-token", "", "JWT access token")
	rootCmd.PersistentFlags().String("api-key", "", "tenant API key (used when no token is set)")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results in JSON format")

	_ = viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("api-token"))
	_ = viper.BindPFlag("api.key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("api.timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".aiq")
	}

	// AIQ_API_URL, AIQ_API_TOKEN, AIQ_API_KEY
	viper.SetEnvPrefix("AIQ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !outputJSON {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds an API client from flags, environment and config file
func newClient() *cli.Client {
	return cli.NewClient(viper.GetString("api.url"), viper.GetString("api.token"), viper.GetString("api.key"))
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := viper.GetDuration("api.timeout")
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func reportChange(w io.Writer, changed bool, done, unchanged string) {
	if changed {
		fmt.Fprintln(w, done)
		return
	}
	fmt.Fprintln(w, unchanged)
}
