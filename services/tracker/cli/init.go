package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultTrackerYAML = `# TaskTrack tracker service config
# Priority: CLI flag > this file > default.

http_port:    "8080"
metrics_addr: ":9095"
log_level:    "info"       # debug | info | warn | error

# Event stream source. When stream_url is set the service consumes SSE
# directly; otherwise it reads envelopes from the Kafka events topic.
stream_url:        ""
stream_session_id: ""

kafka_brokers:       "localhost:9092"
kafka_events_topic:  "chat.events"
kafka_journal_topic: "task.journal"
kafka_group_id:      "tasktrack"

redis_addr:   "localhost:6379"
postgres_dsn: ""            # empty disables the persistent journal

rate_limit:  100            # requests per window per client IP
rate_window: "1m"

quiet_period:   "30s"       # running tasks silent this long get interrupted
retain_recent:  50          # terminal tasks always kept in the live store
retain_window:  "10s"       # grace before a terminal task may be pruned
recent_limit:   3           # size of the recent display view
prune_schedule: "@every 1m"
stall_schedule: "@every 10s"

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
`

// newInitCmd returns a "init" subcommand that writes a default config file.
func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.tasktrack/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(_ *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".tasktrack", serviceName+".yaml")
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
