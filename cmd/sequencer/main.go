// Command sequencer runs the enrollment engine: the tick loop, the MCP tool
// server and the operator commands around them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	_ "time/tzdata" // sequences pin send times in named zones

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/sequencer/
var version = "dev"

var (
	configDir string
	cfg       Config
	vcfg      = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "sequencer",
	Short:         "Timed email sequence enrollment engine",
	Long:          "sequencer enrolls CRM records into multi-step email sequences and advances them on a schedule.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCmd {
			return nil
		}
		loaded, err := loadConfig(vcfg, configDir)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configDir, "config-dir", sequencerDir(), "directory holding settings.{json,yaml} and .env")
	flags.String("db", "", "database path (overrides db_path)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("queue", "", "outbound queue backend: store or redis")

	_ = vcfg.BindPFlag("db_path", flags.Lookup("db"))
	_ = vcfg.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = vcfg.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = vcfg.BindPFlag("queue_backend", flags.Lookup("queue"))
}

// openApp wires the engine for a command. Callers must Close it.
func openApp(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
