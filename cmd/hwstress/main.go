// Package main is the entry point for hwstress.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hwstress/internal/api"
	"hwstress/internal/config"
	"hwstress/internal/events"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
	"hwstress/internal/scenario"
	"hwstress/internal/telemetry"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
)

// options は全コマンド共通のフラグ
type options struct {
	logLevel  string
	logFormat string
	logFile   string
	trace     string

	logOut *os.File
}

// runOptions は run コマンドのフラグ
type runOptions struct {
	configFile string
	preset     string
	duration   time.Duration
	intensity  int
	provider   string
	noFaults   bool
	exportJSON string
	exportCSV  string
}

func main() {
	os.Exit(run(os.Stdout, os.Args[1:]))
}

// run はコマンドを実行して終了コードを返す
func run(out io.Writer, args []string) int {
	opts := &options{}
	root := newRootCmd(out, opts)
	root.SetArgs(args)

	err := root.Execute()
	if err != nil {
		logger.Error("", "%v", err)
	}
	opts.closeLogFile()

	if err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out io.Writer, opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "hwstress",
		Short:         "Hardware stress harness with fault injection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogger()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "ログレベル (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "ログ形式 (text, json)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "コンソールに加えてログを追記するファイル")
	root.PersistentFlags().StringVar(&opts.trace, "trace", "none", "トレース出力先 (none, stdout)")

	root.AddCommand(newRunCmd(opts), newServeCmd(opts), newPresetsCmd(), newVersionCmd())
	return root
}

func (o *options) setupLogger() error {
	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	logger.Default.SetLevel(level)

	switch o.logFormat {
	case "text":
		logger.Default.SetFormat(logger.FormatText)
	case "json":
		logger.Default.SetFormat(logger.FormatJSON)
	default:
		return errors.Errorf("unknown log format: %s", o.logFormat)
	}

	if o.logFile != "" && o.logOut == nil {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		o.logOut = f
		logger.Default.SetOutput(io.MultiWriter(os.Stdout, f))
	}
	return nil
}

// closeLogFile はログファイルを閉じて出力先をコンソールに戻す
func (o *options) closeLogFile() {
	if o.logOut == nil {
		return
	}
	logger.Default.SetOutput(os.Stdout)
	_ = o.logOut.Close()
	o.logOut = nil
}

func (o *options) initTracer() (func(context.Context) error, error) {
	cfg := telemetry.DefaultTraceConfig()
	cfg.Version = version
	cfg.Exporter = o.trace
	return telemetry.InitTracer(cfg)
}

func newRunCmd(opts *options) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a stress scenario and print the report",
		Example: `  # プリセットシナリオを実行
  hwstress run --preset quick

  # 設定ファイルから実行
  hwstress run --config scenario.yaml

  # フラグでカスタマイズしてメトリクスを保存
  hwstress run --preset cpu --duration 30s --intensity 8 --export-csv metrics.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildScenarioConfig(ro)
			if err != nil {
				return err
			}

			shutdown, err := opts.initTracer()
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			return runScenario(cmd.Context(), cmd.OutOrStdout(), cfg, ro)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ro.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	f.StringVar(&ro.preset, "preset", "", "プリセットシナリオ名")
	f.DurationVar(&ro.duration, "duration", 0, "シナリオ実行時間 (例: 10s, 1m)")
	f.IntVar(&ro.intensity, "intensity", 0, "負荷強度 (1-10)")
	f.StringVar(&ro.provider, "provider", "", "メトリクス供給元 (synthetic, system)")
	f.BoolVar(&ro.noFaults, "no-faults", false, "障害注入を無効化")
	f.StringVar(&ro.exportJSON, "export-json", "", "メトリクス履歴をJSONで保存するパス")
	f.StringVar(&ro.exportCSV, "export-csv", "", "メトリクス履歴をCSVで保存するパス")
	cmd.MarkFlagsMutuallyExclusive("config", "preset")

	return cmd
}

// buildScenarioConfig はシナリオ設定を構築する
func buildScenarioConfig(ro *runOptions) (scenario.Config, error) {
	var cfg scenario.Config

	// 1. 設定ファイルから読み込み
	if ro.configFile != "" {
		fileConfig, err := config.LoadFile(ro.configFile)
		if err != nil {
			return cfg, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg, err = fileConfig.ToScenarioConfig()
		if err != nil {
			return cfg, fmt.Errorf("設定検証エラー: %w", err)
		}
	} else if ro.preset != "" {
		// 2. プリセットから読み込み
		preset, ok := scenario.GetPreset(ro.preset)
		if !ok {
			return cfg, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", ro.preset, scenario.ListPresets())
		}
		cfg = preset
	} else {
		// 3. デフォルト（quickシナリオ）
		cfg = scenario.QuickScenario()
	}

	// フラグでオーバーライド
	if ro.duration > 0 {
		cfg.Duration = ro.duration
	}
	if ro.intensity > 0 {
		cfg.Intensity = ro.intensity
	}
	if ro.provider != "" {
		cfg.Provider = ro.provider
	}
	if ro.noFaults {
		cfg.EnableFaults = false
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// runScenario はシナリオを実行する
func runScenario(ctx context.Context, out io.Writer, cfg scenario.Config, ro *runOptions) error {
	fmt.Fprintln(out, "hwstress - Hardware Stress Harness")
	fmt.Fprintln(out, "====================================================")
	fmt.Fprintf(out, "Scenario: %s\n", cfg.Name)
	fmt.Fprintf(out, "Duration: %v, Intensity: %d\n", cfg.Duration, cfg.Intensity)
	fmt.Fprintf(out, "Workers: %d, Provider: %s\n", len(cfg.Workers), cfg.Provider)
	fmt.Fprintf(out, "Faults: %v, Auto recovery: %v\n", cfg.EnableFaults, cfg.AutoRecovery)
	fmt.Fprintln(out, "====================================================")
	fmt.Fprintln(out)

	// シグナルハンドリング
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// シナリオ実行
	engine := scenario.New(cfg)
	engine.SetLogger(logger.Default)
	engine.SetMetrics(telemetry.NewMetrics())

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// レポート出力
	fmt.Fprintln(out, result.Report())

	if ro.exportJSON != "" {
		if err := exportFile(ro.exportJSON, result.Metrics, metrics.WriteJSON); err != nil {
			return err
		}
	}
	if ro.exportCSV != "" {
		if err := exportFile(ro.exportCSV, result.Metrics, metrics.WriteCSV); err != nil {
			return err
		}
	}

	if !result.Passed() {
		return errors.New("scenario failed")
	}
	return nil
}

func exportFile(path string, snaps []metrics.Snapshot, write func(io.Writer, []metrics.Snapshot) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create export file")
	}
	if err := write(f, snaps); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "export %s", path)
	}
	logger.Info("", "Exported %d samples to %s", len(snaps), path)
	return f.Close()
}

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr   string
		preset string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status API with websocket event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdown, err := opts.initTracer()
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			return runServer(cmd.Context(), cmd.OutOrStdout(), addr, preset)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	cmd.Flags().StringVar(&preset, "preset", "", "起動時に実行するプリセット")
	return cmd
}

// runServer はAPIサーバーを起動する
func runServer(ctx context.Context, out io.Writer, addr, preset string) error {
	fmt.Fprintln(out, "hwstress - API Server")
	fmt.Fprintln(out, "========================")
	fmt.Fprintf(out, "Starting server on http://%s\n", addr)
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	fmt.Fprintln(out)

	// シグナルハンドリング
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(api.Config{
		Addr:    addr,
		Logger:  logger.Default,
		Metrics: telemetry.NewMetrics(),
		Bus:     events.NewBusWithBuffer(1024),
	})

	if preset != "" {
		cfg, ok := scenario.GetPreset(preset)
		if !ok {
			return fmt.Errorf("不明なプリセット: %s (利用可能: %v)", preset, scenario.ListPresets())
		}
		if err := server.StartScenario(cfg); err != nil {
			return err
		}
	}

	return server.Start(ctx)
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List available preset scenarios",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printPresets(cmd.OutOrStdout())
		},
	}
}

// printPresets は利用可能なプリセットを表示する
func printPresets(out io.Writer) {
	fmt.Fprintln(out, "利用可能なプリセットシナリオ:")
	fmt.Fprintln(out)

	for _, name := range scenario.ListPresets() {
		cfg, _ := scenario.GetPreset(name)
		fmt.Fprintf(out, "  %-10s %-6v %s\n", name, cfg.Duration, cfg.Description)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "使用例: hwstress run --preset quick")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hwstress version %s\n", version)
		},
	}
}
