// Package cmd wires the CLI surface: flag parsing, environment overlay,
// config resolution, and the single-invocation agent run.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/termagent/internal/agent"
	"github.com/nextlevelbuilder/termagent/internal/config"
	"github.com/nextlevelbuilder/termagent/internal/errs"
	"github.com/nextlevelbuilder/termagent/internal/options"
	"github.com/nextlevelbuilder/termagent/internal/providers"
	"github.com/nextlevelbuilder/termagent/internal/stats"
	"github.com/nextlevelbuilder/termagent/internal/tools"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/termagent/cmd.Version=v1.0.0".
var Version = "dev"

var (
	opts options.Options

	flagNoTools bool
	flagYes     bool
	flagUnsafe  bool
	flagVersion bool
)

var rootCmd = &cobra.Command{
	Use:   "termagent",
	Short: "termagent — policy-governed AI agent for the terminal",
	Long: "termagent turns a prompt into a bounded agentic conversation with an\n" +
		"OpenAI-compatible endpoint, executing file and shell tools locally under\n" +
		"a command security policy with human-in-the-loop approval.",
	SilenceUsage:  true,
	SilenceErrors: true,
	// Unknown flags are ignored for forward compatibility.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func init() {
	opts = options.New()
	f := rootCmd.Flags()

	f.StringVarP(&opts.Message, "message", "m", "", "user prompt")
	f.StringVar(&opts.Model, "model", "", "model as provider/model or bare model")
	f.StringVar(&opts.ConfigPath, "config", "", "runtime/policy config file (default agent.json)")
	f.StringVar(&opts.AuthConfigPath, "auth-config", "", "credentials file (default agent.auth.json)")
	f.StringVar(&opts.Profile, "profile", "", "security profile: safe|dev|framework")
	f.StringVar(&opts.Approval, "approval", "", "command approval mode: ask|auto|never")
	f.StringVar(&opts.Tools, "tools", "", "tools mode: auto|on|off")
	f.BoolVar(&flagNoTools, "no-tools", false, "disable tools (same as --tools off)")
	f.BoolVar(&flagYes, "yes", false, "approve all commands (same as --approval auto)")
	f.BoolVar(&flagUnsafe, "unsafe", false, "use the framework profile (no command restrictions)")
	f.StringArrayVar(&opts.Files, "file", nil, "attach a text file (repeatable)")
	f.StringArrayVar(&opts.Images, "image", nil, "attach an image (repeatable)")
	f.StringVar(&opts.SystemPrompt, "system-prompt", "", "system prompt (empty string disables the system role)")
	f.Int64Var(&opts.MaxFileBytes, "max-file-bytes", options.Unset, "per-file byte limit (0 = unlimited)")
	f.Int64Var(&opts.MaxImageBytes, "max-image-bytes", options.Unset, "per-image byte limit (0 = unlimited)")
	f.IntVar(&opts.MaxFiles, "max-files", options.Unset, "file attachment count limit (0 = unlimited)")
	f.IntVar(&opts.MaxImages, "max-images", options.Unset, "image attachment count limit (0 = unlimited)")
	f.IntVar(&opts.CommandTimeoutMs, "command-timeout", options.Unset, "per-command timeout in milliseconds")
	f.BoolVar(&opts.AllowInsecureHTTP, "allow-insecure-http", false, "permit http base URLs for non-local hosts")
	f.BoolVar(&opts.JSON, "json", false, "machine-readable JSON output")
	f.BoolVar(&opts.JSONSchema, "json-schema", false, "print the JSON output schema and exit")
	f.BoolVar(&opts.Stream, "stream", false, "stream assistant text as it arrives")
	f.BoolVar(&opts.Verbose, "verbose", false, "info-level diagnostics on stderr")
	f.BoolVar(&opts.Debug, "debug", false, "debug-level diagnostics (implies --verbose)")
	f.BoolVar(&opts.Log, "log", false, "append errors to the default log file")
	f.StringVar(&opts.LogFile, "log-file", "", "append errors to this log file")
	f.BoolVar(&opts.Stats, "stats", false, "print the usage report and exit")
	f.IntVar(&opts.StatsTop, "stats-top", options.Unset, "limit the usage report to the top N models")
	f.BoolVarP(&flagVersion, "version", "V", false, "print the version and exit")
}

// Execute runs the root command and exits with the mapped code.
func Execute() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		cancel()
		// Give in-flight work a moment to unwind, then exit hard with the
		// conventional 128+signal code.
		time.Sleep(200 * time.Millisecond)
		if sig == syscall.SIGTERM {
			os.Exit(143)
		}
		os.Exit(130)
	}()

	err := rootCmd.ExecuteContext(ctx)
	signal.Stop(sigs)
	close(sigs)
	if err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	code := agent.ExitCodeFor(errs.CodeOf(err))
	if code == 0 {
		return 1
	}
	return code
}

func run(cmd *cobra.Command) error {
	if flagVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "termagent %s\n", Version)
		return nil
	}

	opts.SystemPromptSet = cmd.Flags().Changed("system-prompt")
	if flagNoTools {
		opts.Tools = "off"
	}
	if flagYes {
		opts.Approval = "auto"
	}
	if flagUnsafe {
		opts.Profile = "framework"
	}

	setupLogging()

	resolved, err := options.ApplyEnvOverrides(opts, os.Getenv)
	if err != nil {
		return reportError(err)
	}
	if err := options.Validate(resolved); err != nil {
		return reportError(err)
	}

	if resolved.JSONSchema {
		return printJSONSchema(cmd.OutOrStdout())
	}

	configPath := resolved.ConfigPath
	if configPath == "" {
		configPath = config.DefaultRuntimePath
	}
	cfg, err := config.LoadRuntime(configPath)
	if err != nil {
		return reportError(err)
	}

	if resolved.Stats {
		return printStatsReport(cmd.OutOrStdout(), cfg.Runtime.UsageStats, resolved.StatsTop)
	}

	if resolved.Message == "" {
		return reportError(errs.New(errs.CodeInvalidOption,
			"a prompt is required: pass --message/-m"))
	}

	return runAgent(cmd.Context(), cfg, resolved)
}

// runAgent is the single-invocation pipeline: credentials, selection,
// attachments, loop, output.
func runAgent(ctx context.Context, cfg *config.File, resolved options.Options) error {
	start := time.Now()

	profile := firstNonEmpty(resolved.Profile, cfg.Runtime.Profile, "safe")
	approval := firstNonEmpty(resolved.Approval, cfg.Runtime.DefaultApprovalMode, "ask")
	toolsMode := firstNonEmpty(resolved.Tools, cfg.Runtime.DefaultToolsMode, "auto")

	systemPrompt := ""
	if cfg.Runtime.SystemPrompt != nil {
		systemPrompt = *cfg.Runtime.SystemPrompt
	}
	if resolved.SystemPromptSet {
		systemPrompt = resolved.SystemPrompt
	}

	meta := agent.OutputMeta{
		Profile:      profile,
		Mode:         profile,
		ApprovalMode: approval,
		ToolsMode:    toolsMode,
	}
	fail := func(err error) error {
		meta.TimingMs = time.Since(start).Milliseconds()
		return emitFailure(err, meta, resolved)
	}

	authPath := resolved.AuthConfigPath
	if authPath == "" {
		authPath = config.DefaultCredentialsPath
	}
	creds, err := config.LoadCredentials(authPath)
	if err != nil {
		return fail(err)
	}

	sel, err := providers.ResolveSelection(resolved.Model, &cfg.Runtime, creds)
	if err != nil {
		return fail(err)
	}
	meta.Provider = sel.Provider
	meta.Model = sel.Model

	allowInsecure := resolved.AllowInsecureHTTP || cfg.Runtime.AllowInsecureHTTP
	runtime, err := providers.BuildRuntime(sel, creds, authPath, resolved.APIKey, allowInsecure)
	if err != nil {
		return fail(err)
	}

	limits := effectiveAttachmentLimits(resolved, cfg.Runtime.Attachments)
	attachments, err := agent.ResolveAttachments(resolved.Files, resolved.Images, limits)
	if err != nil {
		return fail(err)
	}
	meta.Attachments = attachments

	retriesUsed := 0
	retryCfg := providers.DefaultRetryConfig()
	retryCfg.OnRetry = func(attempt int, reason string, delay time.Duration) {
		retriesUsed++
		if !resolved.JSON {
			fmt.Fprintf(os.Stderr, "retrying (%s) in %s...\n", reason, delay.Round(time.Millisecond))
		}
	}
	provider := providers.NewOpenAIProvider(runtime).WithRetryConfig(retryCfg)

	commandTimeout := resolved.CommandTimeoutMs
	if commandTimeout == options.Unset {
		commandTimeout = cfg.Runtime.CommandTimeoutMs
	}
	prompter := &tools.TerminalPrompter{
		TimeoutMs: cfg.Runtime.ApprovalTimeoutMs,
		JSONMode:  resolved.JSON,
	}
	// When a prompt could be needed, constraint violations abort the
	// invocation up front rather than failing individual tool calls.
	if approval == "ask" && toolsMode != "off" {
		if err := prompter.Precheck(); err != nil {
			return fail(err)
		}
	}
	shell := &tools.ShellTool{
		Profile:      profile,
		Policy:       cfg.Security,
		ApprovalMode: approval,
		TimeoutMs:    config.ClampCommandTimeout(commandTimeout),
		Prompter:     prompter,
	}

	var sink func(string)
	if resolved.Stream && !resolved.JSON {
		sink = func(delta string) { fmt.Fprint(os.Stdout, delta) }
	}

	outcome, err := agent.Run(ctx, agent.Params{
		Provider:     provider,
		Registry:     tools.DefaultRegistry(shell),
		Recorder:     stats.NewRecorder(cfg.Runtime.UsageStats),
		ProviderName: sel.Provider,
		Model:        sel.Model,
		SystemPrompt: systemPrompt,
		Message:      resolved.Message,
		Attachments:  attachments,
		ToolsMode:    toolsMode,
		MaxToolTurns: config.ClampMaxToolTurns(cfg.Runtime.MaxToolTurns),
		Stream:       resolved.Stream,
		JSONOutput:   resolved.JSON,
		StreamSink:   sink,
	})
	meta.RetriesUsed = retriesUsed
	meta.TimingMs = time.Since(start).Milliseconds()
	if err != nil {
		return emitFailure(err, meta, resolved)
	}

	out := agent.BuildOutput(outcome, meta)
	if resolved.JSON {
		data, err := out.Marshal()
		if err != nil {
			return emitFailure(err, meta, resolved)
		}
		os.Stdout.Write(data)
	} else if !outcome.StreamedOutput && outcome.FinalText != "" {
		fmt.Fprintln(os.Stdout, outcome.FinalText)
	} else if outcome.StreamedOutput {
		fmt.Fprintln(os.Stdout)
	}

	if !out.OK {
		return errs.New(out.Code, out.Error)
	}
	return nil
}

// emitFailure writes the failure in the requested format and returns a
// coded error for the exit-code mapping. Duplicated stderr text is
// skipped in JSON mode.
func emitFailure(err error, meta agent.OutputMeta, resolved options.Options) error {
	logError(err, resolved)
	if resolved.JSON {
		out := agent.BuildErrorOutput(err, meta)
		if data, merr := out.Marshal(); merr == nil {
			os.Stdout.Write(data)
		}
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", errs.Redact(err.Error()))
	}
	return err
}

// reportError handles failures before the output meta exists.
func reportError(err error) error {
	logError(err, opts)
	if opts.JSON {
		out := agent.BuildErrorOutput(err, agent.OutputMeta{})
		if data, merr := out.Marshal(); merr == nil {
			os.Stdout.Write(data)
		}
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", errs.Redact(err.Error()))
	}
	return err
}

func setupLogging() {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	if opts.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// logError appends the redacted error to the log file when --log or
// --log-file is set. Best-effort.
func logError(err error, o options.Options) {
	path := o.LogFile
	if path == "" {
		if !o.Log {
			return
		}
		path = "agent.log"
	}
	f, ferr := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if ferr != nil {
		slog.Debug("cannot open log file", "path", path, "error", ferr)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), errs.CodeOf(err), errs.Redact(err.Error()))
}

func effectiveAttachmentLimits(o options.Options, cfg *config.AttachmentLimits) agent.AttachmentLimits {
	limits := agent.AttachmentLimits{}
	if cfg != nil {
		if cfg.MaxFiles != nil {
			limits.MaxFiles = *cfg.MaxFiles
		}
		if cfg.MaxImages != nil {
			limits.MaxImages = *cfg.MaxImages
		}
		if cfg.MaxFileBytes != nil {
			limits.MaxFileBytes = *cfg.MaxFileBytes
		}
		if cfg.MaxImageBytes != nil {
			limits.MaxImageBytes = *cfg.MaxImageBytes
		}
	}
	if o.MaxFiles != options.Unset {
		limits.MaxFiles = o.MaxFiles
	}
	if o.MaxImages != options.Unset {
		limits.MaxImages = o.MaxImages
	}
	if o.MaxFileBytes != options.Unset {
		limits.MaxFileBytes = o.MaxFileBytes
	}
	if o.MaxImageBytes != options.Unset {
		limits.MaxImageBytes = o.MaxImageBytes
	}
	return limits
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
