package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"icomet/internal/app"
	"icomet/internal/config"
	"icomet/internal/storage"
	"icomet/pkg/icomet"
	logx "icomet/pkg/logx"
)

const usage = `usage: icomet [flags] <command> [args]

commands:
  sign <channel> [expires]        request a channel token
  push <channel> <content>        push content to one channel
  broadcast <content> [channel...] broadcast to all channels, or fan out to the listed ones
  check <channel>                 report whether a channel exists
  close <channel>                 close a channel
  clear <channel>                 clear a channel's buffered messages
  info [channel]                  server or channel info
  psub                            print presence events until interrupted
  history [n]                     print the last n journal records (default 20)
  run                             run the daemon (presence feed, schedules, hot reload)

flags:
`

type cli struct {
	cfgPath string
	uri     string
	timeout time.Duration
	level   string

	stdout, stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	fset := flag.NewFlagSet("icomet", flag.ContinueOnError)
	fset.SetOutput(stderr)
	fset.StringVar(&c.cfgPath, "config", "", "path to config (json or yaml)")
	fset.StringVar(&c.uri, "uri", "", "server base url (overrides config)")
	fset.DurationVar(&c.timeout, "timeout", 0, "request timeout (overrides config)")
	fset.StringVar(&c.level, "log-level", "warn", "log level for one-shot commands")
	fset.Usage = func() {
		fmt.Fprint(stderr, usage)
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	rest := fset.Args()
	if len(rest) == 0 {
		fset.Usage()
		return 2
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(stderr, "warning:", err)
	}

	if err := c.dispatch(ctx, rest[0], rest[1:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "%s\n\n", ue)
			fset.Usage()
			return 2
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func need(args []string, n int, form string) error {
	if len(args) < n {
		return usageError("usage: icomet " + form)
	}
	return nil
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "run":
		return c.runDaemon(ctx)
	case "history":
		return c.history(ctx, args)
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	client, err := icomet.New(c.clientConfig(cfg), logx.NewConsole(c.level))
	if err != nil {
		return err
	}

	switch cmd {
	case "sign":
		if err := need(args, 1, "sign <channel> [expires]"); err != nil {
			return err
		}
		expires := 0
		if len(args) > 1 {
			if expires, err = strconv.Atoi(args[1]); err != nil {
				return usageError(fmt.Sprintf("expires must be an integer, got %q", args[1]))
			}
		}
		return c.print(client.Sign(ctx, args[0], expires))
	case "push":
		if err := need(args, 2, "push <channel> <content>"); err != nil {
			return err
		}
		return c.print(client.Push(ctx, args[0], strings.Join(args[1:], " ")))
	case "broadcast":
		if err := need(args, 1, "broadcast <content> [channel...]"); err != nil {
			return err
		}
		var channels []string
		if len(args) > 1 {
			channels = args[1:]
		}
		ok, err := client.BroadcastTo(ctx, args[0], channels)
		if err != nil {
			return err
		}
		// fan-out returns before the pushes finish; wait for them here
		if channels != nil {
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			st := client.Stats()
			return c.print(map[string]any{"ok": ok, "done": st.Done, "failed": st.Failed}, nil)
		}
		return c.print(ok, nil)
	case "check":
		if err := need(args, 1, "check <channel>"); err != nil {
			return err
		}
		return c.print(client.Check(ctx, args[0]))
	case "close":
		if err := need(args, 1, "close <channel>"); err != nil {
			return err
		}
		return c.print(client.Close(ctx, args[0]))
	case "clear":
		if err := need(args, 1, "clear <channel>"); err != nil {
			return err
		}
		return c.print(client.Clear(ctx, args[0]))
	case "info":
		channel := ""
		if len(args) > 0 {
			channel = args[0]
		}
		return c.print(client.Info(ctx, channel))
	case "psub":
		enc := json.NewEncoder(c.stdout)
		return client.SubscribeEvents(ctx, func(ev icomet.Event) { _ = enc.Encode(ev) })
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

// loadConfig reads -config when given; otherwise the config is built from
// ICOMET_* environment variables alone.
func (c *cli) loadConfig() (*config.Config, error) {
	if c.cfgPath == "" {
		cfg := &config.Config{}
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	m := config.NewConfigManager(c.cfgPath)
	cfg, err := m.Parse()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config %s not found", c.cfgPath)
		}
		return nil, err
	}
	return cfg, nil
}

func (c *cli) clientConfig(cfg *config.Config) icomet.Config {
	cc := app.ClientConfig(cfg)
	if c.uri != "" {
		cc.URI = c.uri
	}
	if c.timeout > 0 {
		cc.Timeout = c.timeout
	}
	return cc
}

func (c *cli) runDaemon(ctx context.Context) error {
	path := c.cfgPath
	if path == "" {
		path = "./icomet.yaml"
	}
	a, err := app.NewApp(path)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func (c *cli) history(ctx context.Context, args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return usageError(fmt.Sprintf("history count must be a positive integer, got %q", args[0]))
		}
		n = v
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage == nil {
		return errors.New("storage is not configured")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return err
	}
	st, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}, logx.NewConsole(c.level))
	if err != nil {
		return err
	}
	if st == nil {
		return storage.ErrDisabled
	}
	defer st.Close()
	recs, err := st.Recent(ctx, n)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) print(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
