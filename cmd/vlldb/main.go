package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rexliu/vlldb/pkg/client"
	"github.com/rexliu/vlldb/pkg/config"
	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/storage/sqlite"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "init":
		err = initCommand(os.Args[2:])
	case "diag":
		err = diagCommand(os.Args[2:])
	case "launch":
		err = launchCommand(os.Args[2:])
	case "journal":
		err = journalCommand(os.Args[2:])
	case "version":
		fmt.Printf("vlldb %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s error: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: vlldb <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init      Initialize a local profile (writes config.toml)")
	fmt.Println("  diag      Print profile configuration paths")
	fmt.Println("  launch    Run a program through the bridge and print its events")
	fmt.Println("  journal   List recorded debug sessions")
	fmt.Println("  version   Print CLI version")
}

func initCommand(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	profilePath := fs.String("profile", "./_dev_profile", "Profile directory")
	name := fs.String("name", "dev", "Profile name")
	force := fs.Bool("force", false, "Overwrite existing config if present")
	_ = fs.Parse(args)

	if err := os.MkdirAll(*profilePath, 0o700); err != nil {
		return err
	}
	configPath := filepath.Join(*profilePath, config.FileName)
	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}
	cfg := config.DefaultProfile(*name)
	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("initialized profile %s at %s\n", cfg.ProfileName, *profilePath)
	return nil
}

func diagCommand(args []string) error {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	_ = fs.Parse(args)

	cfg, err := loadProfile(*profile)
	if err != nil {
		return err
	}
	fmt.Printf("Profile: %s\n", cfg.ProfileName)
	fmt.Printf("Config: %s\n", filepath.Join(*profile, config.FileName))
	fmt.Printf("Poll Interval: %s\n", cfg.Bridge.PollInterval())
	fmt.Printf("Max Frame: %d bytes (skip malformed=%t)\n", cfg.Bridge.MaxFrameBytes, cfg.Bridge.SkipMalformed)
	fmt.Printf("Journal: %s (enabled=%t)\n", config.ResolvePath(*profile, cfg.Journal.DBPath), cfg.Journal.Enabled)
	if cfg.IPC.SocketPath != "" {
		fmt.Printf("Socket: %s\n", config.ResolvePath(*profile, cfg.IPC.SocketPath))
	}
	if cfg.Logging.FilePath != "" {
		fmt.Printf("Log File: %s\n", config.ResolvePath(*profile, cfg.Logging.FilePath))
	}
	if cfg.Metrics.Listen != "" {
		fmt.Printf("Metrics: http://%s/metrics\n", cfg.Metrics.Listen)
	}
	return nil
}

// envList collects repeated -env KEY=VALUE flags.
type envList []string

func (e *envList) String() string { return strings.Join(*e, ",") }

func (e *envList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected KEY=VALUE, got %q", v)
	}
	*e = append(*e, v)
	return nil
}

func launchCommand(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	bridgePath := fs.String("bridge", "vlldb-bridge", "Bridge executable to spawn")
	socket := fs.String("socket", "", "Connect to a bridge serving this socket instead of spawning one")
	profile := fs.String("profile", "", "Profile directory passed to the spawned bridge")
	cwd := fs.String("cwd", "", "Working directory of the debuggee")
	inherit := fs.Bool("inherit-env", true, "Start from the current environment")
	var env envList
	fs.Var(&env, "env", "Environment entry KEY=VALUE (repeatable)")
	_ = fs.Parse(args)

	rest := fs.Args()
	if len(rest) == 0 {
		return errors.New("usage: vlldb launch [options] -- <executable> [args...]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var c *client.Client
	var err error
	if *socket != "" {
		c, err = client.Dial(context.Background(), *socket)
	} else {
		var bridgeArgs []string
		if *profile != "" {
			bridgeArgs = append(bridgeArgs, "-profile", *profile)
		}
		c, err = client.Start(context.Background(), *bridgePath, bridgeArgs...)
	}
	if err != nil {
		return err
	}
	defer c.Close()

	launch := core.Launch{
		Executable: rest[0],
		Arguments:  rest[1:],
		WorkingDir: *cwd,
	}
	if *inherit {
		launch.Environments = os.Environ()
	}
	launch.Environments = append(launch.Environments, env...)
	if err := c.Send(launch); err != nil {
		return fmt.Errorf("send launch: %w", err)
	}
	return followEvents(ctx, c)
}

// followEvents prints events until the debuggee ends. An interrupt kills the
// debuggee and keeps following until its exit is reported.
func followEvents(ctx context.Context, c *client.Client) error {
	interrupted := ctx.Done()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			if err := c.Send(core.Kill{}); err != nil {
				return err
			}
		case ev, ok := <-c.Events():
			if !ok {
				return c.Err()
			}
			if done := printEvent(ev); done {
				return nil
			}
		}
	}
}

func printEvent(ev core.Event) bool {
	switch ev := ev.(type) {
	case core.Output:
		fmt.Print(ev.Text)
	case core.StateChanged:
		fmt.Fprintf(os.Stderr, "[state] %s\n", ev.State)
		if code, ok := core.ParseState(ev.State); ok && code.Terminal() {
			return true
		}
	case core.Failure:
		fmt.Fprintf(os.Stderr, "[error] %s: %s\n", ev.Command, ev.Message)
		if ev.Command == core.TypeLaunch {
			return true
		}
	case core.Description:
		fmt.Fprintf(os.Stderr, "[event] %s\n", ev.Text)
	}
	return false
}

func journalCommand(args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	profile := fs.String("profile", "./_dev_profile", "Profile directory")
	limit := fs.Int("limit", 20, "Maximum sessions to list")
	session := fs.String("session", "", "Show the events of one session")
	_ = fs.Parse(args)

	cfg, err := loadProfile(*profile)
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal disabled in %s", filepath.Join(*profile, config.FileName))
	}
	ctx := context.Background()
	store, err := sqlite.Open(config.ResolvePath(*profile, cfg.Journal.DBPath))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	var out any
	if *session != "" {
		out, err = store.SessionEvents(ctx, *session)
	} else {
		out, err = store.ListSessions(ctx, *limit)
	}
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func loadProfile(profile string) (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config not found in %s (run 'vlldb init --profile %s')", profile, profile)
		}
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
