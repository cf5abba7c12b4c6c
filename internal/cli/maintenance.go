package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	"github.com/vladislavdragonenkov/posync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/posync/internal/storage/postgres"
	"github.com/vladislavdragonenkov/posync/internal/storage/sqlite"
	"github.com/vladislavdragonenkov/posync/internal/version"
)

type clearView struct {
	Removed int64 `json:"removed"`
}

func (v clearView) renderText(w io.Writer) {
	fmt.Fprintf(w, "removed %d operation(s)\n", v.Removed)
}

// newQueueClearCommand удаляет операции прямо из локальной базы.
// Узел на этой базе должен быть остановлен.
func newQueueClearCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath  string
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every pending operation in the local database",
		Long: `Discard every pending operation in the local database.

Use only when an operation is permanently rejected by the remote store and
blocks the queue. Unsynced changes are lost. Stop the node first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return NewExitError(ExitCommandError, "refusing to clear the queue without --yes")
			}
			if strings.TrimSpace(dbPath) == "" {
				return NewExitError(ExitCommandError, "--db is required")
			}
			store, err := sqlite.Open(dbPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "open local database", err)
			}
			defer func() { _ = store.Close() }()

			removed, err := sqlite.NewOperationQueue(store).Clear(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "clear queue", err)
			}
			return rootOpts.formatter(cmd).Success(clearView{Removed: removed})
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", envOr(EnvLocalDB, ""), "path to the local sqlite database")
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm that pending operations will be lost")
	return cmd
}

type replayView kafka.ReplayStats

func (v replayView) renderText(w io.Writer) {
	fmt.Fprintf(w, "processed=%d replayed=%d skipped=%d\n", v.Processed, v.Replayed, v.Skipped)
}

// NewDLQCommand создаёт группу команд DLQ ленты изменений.
func NewDLQCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Maintain the change feed dead letter queue",
	}

	var (
		brokers string
		cfg     kafka.ReplayConfig
	)
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Publish change notifications from the DLQ back to the feed",
		Long: `Publish change notifications from the DLQ back to the change feed.

Without --execute only lists the candidates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list := splitList(brokers)
			if len(list) == 0 {
				return NewExitError(ExitCommandError, "--brokers is required")
			}
			if cfg.Limit <= 0 {
				return NewExitError(ExitCommandError, "--limit must be > 0")
			}

			replayer, err := kafka.DialDLQReplayer(list, cfg.Execute)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect kafka", err)
			}
			defer func() { _ = replayer.Close() }()

			stats, err := replayer.Replay(cmd.Context(), cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "replay dlq", err)
			}
			return rootOpts.formatter(cmd).Success(replayView(stats))
		},
	}
	replay.Flags().StringVar(&brokers, "brokers", envOr(EnvKafkaBrokers, ""), "comma-separated kafka brokers")
	replay.Flags().StringVar(&cfg.SourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dlq topic")
	replay.Flags().StringVar(&cfg.TargetTopic, "target-topic", kafka.TopicChanges, "topic for records without the original topic")
	replay.Flags().IntVar(&cfg.Limit, "limit", 100, "maximum number of dlq records to process")
	replay.Flags().BoolVar(&cfg.Execute, "execute", false, "publish the records instead of listing them")
	replay.Flags().BoolVar(&cfg.FromNewest, "from-newest", false, "start from the newest records of each partition")
	replay.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this long without records")
	cmd.AddCommand(replay)
	return cmd
}

// NewPINCommand создаёт группу команд PIN-кодов.
func NewPINCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin",
		Short: "Manage session PIN codes in the remote store",
	}

	var dsn, sessionType, pin string
	set := &cobra.Command{
		Use:   "set",
		Short: "Set the PIN for a session type",
		Long: `Set the PIN for a session type. The PIN is 4-6 digits and is stored as a bcrypt hash.

Pass --pin - to read the PIN from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(dsn) == "" {
				return NewExitError(ExitCommandError, "--dsn is required")
			}
			st := domain.SessionType(strings.TrimSpace(sessionType))
			if !st.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown session type %q", sessionType))
			}
			value, err := readPIN(pin, cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitCommandError, "read pin", err)
			}

			store, err := postgres.Open(cmd.Context(), dsn)
			if err != nil {
				return WrapExitError(ExitCommandError, "connect postgres", err)
			}
			defer func() { _ = store.Close() }()

			if err := postgres.NewSessionRepository(store).SetPIN(cmd.Context(), st, value); err != nil {
				if domain.IsValidation(err) || errors.Is(err, domain.ErrInvalidPIN) {
					return WrapExitError(ExitCommandError, "set pin", err)
				}
				return WrapExitError(ExitFailure, "set pin", err)
			}
			return rootOpts.formatter(cmd).Success(fmt.Sprintf("pin for %s updated", st))
		},
	}
	set.Flags().StringVar(&dsn, "dsn", envOr(EnvPostgresDSN, ""), "postgres DSN")
	set.Flags().StringVar(&sessionType, "type", string(domain.SessionMainApp), "session type (main_app|history_summary|owner|admin)")
	set.Flags().StringVar(&pin, "pin", "", "new PIN, or - to read from stdin")
	cmd.AddCommand(set)
	return cmd
}

func readPIN(flagValue string, in io.Reader) (string, error) {
	if flagValue != "-" {
		if flagValue == "" {
			return "", fmt.Errorf("--pin is required")
		}
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty pin on stdin")
	}
	return line, nil
}

type versionView struct {
	version.Build
}

func (v versionView) renderText(w io.Writer) {
	fmt.Fprintf(w, "posctl %s\n", v.Build)
}

// NewVersionCommand создаёт команду version.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Success(versionView{Build: version.Info()})
		},
	}
}
