// Package cli реализует posctl: управление кассовым узлом и обслуживание
// очереди синхронизации, DLQ и PIN-кодов.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Переменные окружения со значениями флагов по умолчанию.
const (
	EnvGRPCAddr     = "POS_GRPC_ADDR"
	EnvPostgresDSN  = "POS_POSTGRES_DSN"
	EnvKafkaBrokers = "POS_KAFKA_BROKERS"
	EnvLocalDB      = "POS_LOCAL_DB"
)

const defaultGRPCAddr = "localhost:50051"

// ValidFormats — допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// dialFunc открывает соединение с gRPC API узла.
type dialFunc func(addr string) (*grpc.ClientConn, error)

// RootOptions — глобальные флаги команд.
type RootOptions struct {
	Format   string
	GRPCAddr string
	Timeout  time.Duration

	dial dialFunc
}

// NewRootCommand создаёт корневую команду posctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(dialInsecure)
}

func newRootCommand(dial dialFunc) *cobra.Command {
	opts := &RootOptions{dial: dial}

	cmd := &cobra.Command{
		Use:   "posctl",
		Short: "posctl - управление кассовым узлом posync",
		Long: `Управление кассовым узлом: состояние очереди синхронизации,
принудительный прогон очереди и обновление снапшота, просмотр заказов,
повторная отправка уведомлений из DLQ и смена PIN-кодов.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Timeout <= 0 {
				return NewExitError(ExitCommandError, "timeout must be positive")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.GRPCAddr, "grpc-addr", envOr(EnvGRPCAddr, defaultGRPCAddr), "gRPC address of the node")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewOrdersCommand(opts))
	cmd.AddCommand(NewDLQCommand(opts))
	cmd.AddCommand(NewPINCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func dialInsecure(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
