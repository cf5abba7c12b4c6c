package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/posync/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/posync/internal/service/grpc"
	"github.com/vladislavdragonenkov/posync/internal/service/syncer"
)

// call выполняет один вызов SyncService и разбирает ответ в out.
func (o *RootOptions) call(ctx context.Context, method string, req *structpb.Struct, out any) error {
	conn, err := o.dial(o.GRPCAddr)
	if err != nil {
		return WrapExitError(ExitCommandError, "connect "+o.GRPCAddr, err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	resp, err := grpcsvc.NewSyncServiceClient(conn).Call(ctx, method, req)
	if err != nil {
		return rpcError(method, err)
	}
	if out == nil {
		return nil
	}
	if err := grpcsvc.FromStruct(resp, out); err != nil {
		return WrapExitError(ExitFailure, "decode "+method+" response", err)
	}
	return nil
}

// rpcError переводит gRPC-статус в код выхода.
func rpcError(method string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return WrapExitError(ExitFailure, method, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: node unavailable: %s", method, st.Message()))
	case codes.InvalidArgument:
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", method, st.Message()))
	default:
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %s", method, st.Message()))
	}
}

type statusView syncer.Status

func (v statusView) renderText(w io.Writer) {
	fmt.Fprintf(w, "pending:  %d\n", v.Pending)
	fmt.Fprintf(w, "draining: %t\n", v.Draining)
	if !v.OldestPending.IsZero() {
		fmt.Fprintf(w, "oldest:   %s (%s ago)\n", v.OldestPending.Format(time.RFC3339), time.Since(v.OldestPending).Truncate(time.Second))
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "error:    %s\n", v.LastError)
	}
}

// NewStatusCommand создаёт команду status.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync queue status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st syncer.Status
			if err := rootOpts.call(cmd.Context(), grpcsvc.MethodGetStatus, nil, &st); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(statusView(st))
		},
	}
}

type operationsView struct {
	Operations []domain.PendingOperation `json:"operations"`
}

func (v operationsView) renderText(w io.Writer) {
	if len(v.Operations) == 0 {
		fmt.Fprintln(w, "queue is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENQUEUED")
	for _, op := range v.Operations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", op.ID, op.Type, op.EnqueuedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

type drainView struct {
	Applied int `json:"applied"`
}

func (v drainView) renderText(w io.Writer) {
	fmt.Fprintf(w, "applied %d operation(s)\n", v.Applied)
}

// NewQueueCommand создаёт группу команд очереди синхронизации.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the sync queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending operations in FIFO order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view operationsView
			if err := rootOpts.call(cmd.Context(), grpcsvc.MethodListPendingOperations, nil, &view); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drain",
		Short: "Replay the queue against the remote store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var view drainView
			if err := rootOpts.call(cmd.Context(), grpcsvc.MethodDrain, nil, &view); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	})

	cmd.AddCommand(newQueueClearCommand(rootOpts))
	return cmd
}

// NewSnapshotCommand создаёт группу команд снапшота.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage the local snapshot",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Reload the snapshot from the remote store",
		Long: `Reload products and orders from the remote store.

Refresh is refused while the sync queue holds pending operations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootOpts.call(cmd.Context(), grpcsvc.MethodRefresh, nil, nil); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success("snapshot refreshed")
		},
	})
	return cmd
}

type ordersView struct {
	Orders []domain.Order `json:"orders"`
}

func (v ordersView) renderText(w io.Writer) {
	if len(v.Orders) == 0 {
		fmt.Fprintln(w, "no orders")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSTATUS\tTOTAL\tITEMS\tCUSTOMER\tCREATED")
	for _, o := range v.Orders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			o.OrderNumber, o.Status, formatMinor(o.TotalMinor), len(o.Items), o.CustomerName, o.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

// NewOrdersCommand создаёт группу команд заказов.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect orders in the local snapshot",
	}

	var statusFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := structpb.NewStruct(map[string]any{"status": strings.TrimSpace(statusFilter)})
			if err != nil {
				return WrapExitError(ExitCommandError, "build request", err)
			}
			var view ordersView
			if err := rootOpts.call(cmd.Context(), grpcsvc.MethodListOrders, req, &view); err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(view)
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "filter by status (pending|packed|billed|deleted)")
	cmd.AddCommand(list)
	return cmd
}

func formatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
