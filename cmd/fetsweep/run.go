package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RMahshie/fetbench/internal/config"
	"github.com/RMahshie/fetbench/internal/datalog"
	"github.com/RMahshie/fetbench/internal/display"
	"github.com/RMahshie/fetbench/internal/feed"
	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/internal/sweep"
	"github.com/RMahshie/fetbench/pkg/models"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [idvd|idvg]",
	Short: "Run one sweep",
	Long: `Runs one ID-VD or ID-VG sweep and prints each reading as it arrives.
Axes not given by --recipe use the configured defaults. Ctrl+C stops the sweep
and leaves both units with their outputs off.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{models.SweepIDVD, models.SweepIDVG},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var req models.StartSweepRequestBody
		if recipe, _ := cmd.Flags().GetString("recipe"); recipe != "" {
			if req, err = loadRecipe(recipe); err != nil {
				return err
			}
		}
		if len(args) == 1 {
			req.Type = args[0]
		}
		if cmd.Flags().Changed("dir") || req.Directory == "" {
			req.Directory, _ = cmd.Flags().GetString("dir")
		}
		if cmd.Flags().Changed("name") {
			req.Filename, _ = cmd.Flags().GetString("name")
		}
		if req.Type == "" {
			return errors.New("sweep type is required (idvd or idvg)")
		}
		jsonMode, _ := cmd.Flags().GetBool("json")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		path, err := runSweep(ctx, cfg, req, cmd.OutOrStdout(), jsonMode)
		if path != "" {
			log.Info().Str("csv", path).Msg("Sweep log written")
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("recipe", "", "YAML recipe with type, filename and axis ranges")
	runCmd.Flags().String("dir", "", "Directory for the CSV log (DATA_DIR when empty)")
	runCmd.Flags().String("name", "", "CSV base name (timestamp when empty)")
	runCmd.Flags().Bool("json", false, "Print points as NDJSON")
}

// runSweep executes one sweep to completion or until ctx is cancelled and
// returns the CSV path.
func runSweep(ctx context.Context, cfg *config.Config, req models.StartSweepRequestBody, out io.Writer, jsonMode bool) (string, error) {
	kind, err := sweep.ParseKind(req.Type)
	if err != nil {
		return "", err
	}
	plan, err := cfg.Plan(kind, req.Gate, req.Drain)
	if err != nil {
		return "", err
	}

	dir := req.Directory
	if dir == "" {
		dir = cfg.Data.Dir
	}
	name := strings.TrimSpace(req.Filename)
	if name == "" {
		name = "fet-" + time.Now().Format("20060102-150405")
	}

	bench, err := instrument.Connect(cfg.ConnectConfig())
	if err != nil {
		return "", err
	}
	defer bench.Close()

	events := feed.New()
	engine := sweep.New(bench, events, sweep.WithPollInterval(cfg.Display.PausePoll))
	monitor := display.New(events, display.WithInterval(cfg.Display.FeedPoll))

	var finished feed.Event
	enc := json.NewEncoder(out)
	monitor.SetHooks(display.Hooks{
		OnData: func(e feed.Event) {
			if jsonMode {
				enc.Encode(e.Point)
				return
			}
			printPoint(out, e.Point)
		},
		OnFinish: func(e feed.Event) { finished = e },
	})

	if err := engine.Start(plan, datalog.Opener(dir, name)); err != nil {
		return "", err
	}
	path := datalog.PathFor(dir, name, kind.Axis())
	log.Info().
		Str("type", kind.String()).
		Int("points", plan.TotalPoints()).
		Str("csv", path).
		Msg("Running sweep")

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(monitorCtx)
	}()

	select {
	case <-engine.Done():
	case <-ctx.Done():
		log.Warn().Msg("Interrupted, stopping sweep")
		engine.Stop()
		engine.Wait()
	}
	stopMonitor()
	<-monitorDone

	session := engine.Snapshot()
	fmt.Fprintf(out, "%s sweep %s: %d of %d points\n", kind, session.Status, session.Emitted, session.Total)
	if finished.Kind == feed.KindError {
		return path, errors.New(finished.Message)
	}

	if cfg.Data.XLSXExport && session.Emitted > 0 {
		xlsxPath := strings.TrimSuffix(path, ".csv") + ".xlsx"
		if _, err := datalog.ExportXLSX(path, xlsxPath); err != nil {
			return path, err
		}
		log.Info().Str("xlsx", xlsxPath).Msg("Exported XLSX")
	}
	return path, nil
}

func printPoint(w io.Writer, p models.MeasurementPoint) {
	held := models.AxisVG
	if p.Axis == models.AxisVG {
		held = models.AxisVD
	}
	fmt.Fprintf(w, "%5d  %s=%-8g %s=%-8g IDS=% .4e  IG=% .4e  %-7s %5.1f%%\n",
		p.Seq, p.Axis, p.SweptValue, held, p.FixedValue, p.IDS, p.IG, p.Direction, p.ProgressPct)
}
