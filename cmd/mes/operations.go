package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/bitfantasy/nimo-mes/internal/bootstrap"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	workOrderID  string
	workCenterID string
	exportOut    string
)

var readinessCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Operation readiness maintenance",
}

var readinessRecalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate readiness of every operation of a work order",
	RunE:  runReadinessRecalc,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work center queue maintenance",
}

var queueRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the queue of a work center",
	RunE:  runQueueRebuild,
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the queue of a work center to an xlsx file",
	RunE:  runQueueExport,
}

func init() {
	readinessRecalcCmd.Flags().StringVar(&workOrderID, "work-order", "", "work order id")
	_ = readinessRecalcCmd.MarkFlagRequired("work-order")
	readinessCmd.AddCommand(readinessRecalcCmd)

	for _, c := range []*cobra.Command{queueRebuildCmd, queueExportCmd} {
		c.Flags().StringVar(&workCenterID, "work-center", "", "work center id")
		_ = c.MarkFlagRequired("work-center")
	}
	queueExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default Queue_<code>_<date>.xlsx)")
	queueCmd.AddCommand(queueRebuildCmd, queueExportCmd)

	rootCmd.AddCommand(readinessCmd, queueCmd)
}

func database(inj *do.Injector) (*gorm.DB, error) {
	db, err := do.Invoke[*bootstrap.Database](inj)
	if err != nil {
		return nil, err
	}
	return db.Conn, nil
}

func services(inj *do.Injector) (*service.Services, error) {
	return do.Invoke[*service.Services](inj)
}

func runReadinessRecalc(cmd *cobra.Command, args []string) error {
	inj := newContainer()
	defer inj.Shutdown()

	svcs, err := services(inj)
	if err != nil {
		return err
	}
	results, err := svcs.WorkOrder.RecalculateReadiness(cmd.Context(), cliPrincipal, workOrderID)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tREADY\tDISPATCH\tWAIT(MIN)\tREASONS")
	for _, id := range ids {
		rd := results[id]
		reasons := make([]string, 0, len(rd.BlockedReasons))
		for _, r := range rd.BlockedReasons {
			reasons = append(reasons, string(r))
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%d\t%s\n", id, rd.IsReady, rd.CanDispatch, rd.EstimatedWaitMinutes, strings.Join(reasons, ","))
	}
	return w.Flush()
}

func runQueueRebuild(cmd *cobra.Command, args []string) error {
	inj := newContainer()
	defer inj.Shutdown()

	svcs, err := services(inj)
	if err != nil {
		return err
	}
	entries, err := svcs.WorkOrder.RebuildQueue(cmd.Context(), cliPrincipal, workCenterID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tOPERATION\tWAIT(MIN)")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\n", e.Position, e.OperationID, e.EstimatedWaitMinutes)
	}
	return w.Flush()
}

func runQueueExport(cmd *cobra.Command, args []string) error {
	inj := newContainer()
	defer inj.Shutdown()

	svcs, err := services(inj)
	if err != nil {
		return err
	}
	f, filename, err := svcs.Export.ExportQueue(cmd.Context(), cliPrincipal, workCenterID)
	if err != nil {
		return err
	}
	defer f.Close()

	out := exportOut
	if out == "" {
		out = filename
	}
	if err := f.SaveAs(out); err != nil {
		return fmt.Errorf("save %s: %w", out, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
