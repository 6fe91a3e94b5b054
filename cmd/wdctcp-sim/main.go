package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sagernet/sing-wdctcp/congestion_wdctcp"
	"github.com/sagernet/sing-wdctcp/internal/logging"
	"github.com/sagernet/sing-wdctcp/internal/sim"
	"github.com/sagernet/sing-wdctcp/weight"
	E "github.com/sagernet/sing/common/exceptions"

	"github.com/nats-io/nats.go"
	"github.com/olekukonko/tablewriter"
)

type provider interface {
	weight.Provider
	weight.Admin
	Close() error
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, "wdctcp-sim:", err)
		os.Exit(1)
	}
}

func run() error {
	weights := flag.String("weights", "10000,20000", "comma separated flow weights, \"reno\" for a flow without ECN")
	rounds := flag.Int("rounds", sim.DefaultRounds, "number of round trips to simulate")
	capacity := flag.Int("capacity", sim.DefaultCapacity, "segments the bottleneck drains per round trip")
	markThreshold := flag.Int("k", sim.DefaultMarkThreshold, "queue length above which segments are marked")
	buffer := flag.Int("buffer", 0, "queue length above which segments are dropped, 0 for unlimited")
	alphaShift := flag.Uint("g", congestion_wdctcp.DefaultAlphaShift, "alpha gain shift")
	clampOnLoss := flag.Bool("clamp-on-loss", false, "reset alpha to its maximum on retransmission timeout")
	precision := flag.Uint("precision", congestion_wdctcp.DefaultPrecision, "weight that earns one segment per acked segment")
	interval := flag.Duration("interval", 0, "wall clock time per round trip")
	weightDir := flag.String("weight-dir", "", "mirror weights to <dir>/<connection>/weight")
	natsAddr := flag.String("nats", "", "serve the weight admin surface on this nats server")
	natsSubject := flag.String("nats-subject", weight.DefaultNATSSubject, "nats subject prefix of the admin surface")
	logLevel := flag.String("log", "info", "log level")
	verbose := flag.Bool("v", false, "verbose, same as -log trace")
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	if *verbose {
		level = logging.LevelTrace
	}
	logger := logging.New(os.Stderr, level)

	flows, err := parseFlows(*weights)
	if err != nil {
		return err
	}

	config := congestion_wdctcp.DefaultConfig()
	config.AlphaShift = uint32(*alphaShift)
	config.ClampAlphaOnLoss = *clampOnLoss
	config.Precision = uint32(*precision)

	var weightProvider provider
	if *weightDir != "" {
		fileProvider, err := weight.NewFileProvider(weight.FileOptions{
			Directory: *weightDir,
			Logger:    logger.Tagged("weight"),
		})
		if err != nil {
			return err
		}
		fileProvider.Start()
		weightProvider = fileProvider
	} else {
		weightProvider = weight.NewMemoryProvider()
	}
	defer weightProvider.Close()

	if *natsAddr != "" {
		conn, err := nats.Connect(*natsAddr)
		if err != nil {
			return E.Cause(err, "connect nats")
		}
		defer conn.Close()
		admin, err := weight.NewNATSAdmin(weight.NATSAdminOptions{
			Conn:    conn,
			Subject: *natsSubject,
			Admin:   weightProvider,
			Logger:  logger.Tagged("nats"),
		})
		if err != nil {
			return err
		}
		err = admin.Start()
		if err != nil {
			return err
		}
		defer admin.Close()
		logger.Info("serving weights on ", *natsSubject, ".{get,set,list}")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := simulate(ctx, logger, sim.Options{
		Config:        config,
		Provider:      weightProvider,
		Logger:        logger.Tagged("sim"),
		Flows:         flows,
		Rounds:        *rounds,
		Capacity:      *capacity,
		MarkThreshold: *markThreshold,
		Buffer:        *buffer,
		Interval:      *interval,
	})
	if err != nil {
		return err
	}
	if result != nil {
		printResult(result)
	}
	return nil
}

// simulate runs the flows until done or interrupted. An interrupted run
// returns no result and no error; the weight records are released either way.
func simulate(ctx context.Context, logger *logging.Logger, options sim.Options) (*sim.Result, error) {
	simulator, err := sim.New(options)
	if err != nil {
		return nil, err
	}
	defer simulator.Close()

	start := time.Now()
	result, err := simulator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted after ", time.Since(start))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("simulated ", result.Rounds, " rounds in ", time.Since(start))
	return result, nil
}

func parseFlows(content string) ([]sim.FlowOptions, error) {
	var flows []sim.FlowOptions
	for _, field := range strings.Split(content, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if field == "reno" || field == congestion_wdctcp.NameReno {
			flows = append(flows, sim.FlowOptions{DisableECN: true})
			continue
		}
		flowWeight, err := weight.ParseWeight(field)
		if err != nil {
			return nil, E.Cause(err, "parse flow weight ", field)
		}
		flows = append(flows, sim.FlowOptions{Weight: flowWeight})
	}
	if len(flows) == 0 {
		return nil, E.New("no flows in ", strconv.Quote(content))
	}
	return flows, nil
}

func printResult(result *sim.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Flow", "Algorithm", "Weight", "Avg cwnd", "Final cwnd", "Alpha", "Marked", "Dropped", "Share"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, flow := range result.Flows {
		table.Append([]string{
			flow.Name,
			flow.Mode.String(),
			strconv.FormatUint(uint64(flow.Weight), 10),
			strconv.FormatFloat(flow.AvgCwnd, 'f', 1, 64),
			strconv.FormatUint(uint64(flow.FinalCwnd), 10),
			strconv.FormatUint(uint64(flow.Alpha), 10),
			strconv.FormatUint(flow.Marked, 10),
			strconv.FormatUint(flow.Dropped, 10),
			fmt.Sprintf("%.1f%%", flow.Share*100),
		})
	}
	table.Render()
}
