// Command rdpbridge opens one remote desktop session described by a URI,
// logs its lifecycle and optionally saves the last screen as a PNG.
//
//	rdpbridge -config rdpbridge.yaml -snapshot screen.png 'rdp://alice@host:3389?drive=sdcard'
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-orz/rdpbridge"
	"github.com/go-orz/rdpbridge/config"
	"github.com/go-orz/rdpbridge/display"
	"github.com/go-orz/rdpbridge/remote"
)

const freeTimeout = 10 * time.Second

// Interface guards
var _ rdpbridge.EventListener = (*lifecycle)(nil)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envPath := flag.String("env", ".env", "path to a .env file, ignored when missing")
	snapshot := flag.String("snapshot", "", "write the last screen to this PNG file on exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <rdp-uri>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Arg(0), *snapshot); err != nil {
		logger.Error("session failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, uri, snapshot string) error {
	opts := []remote.Option{
		remote.WithLogger(logger),
		remote.WithTimeout(cfg.Engine.Timeout),
		remote.WithDebug(cfg.Engine.Debug),
	}
	if cfg.Engine.Recording != "" {
		opts = append(opts, remote.WithRecording(cfg.Engine.Recording))
	}
	engine, err := remote.Dial(ctx, cfg.Engine.Address, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	caps, err := rdpbridge.Probe(ctx, engine)
	if err != nil {
		return fmt.Errorf("engine not usable: %w", err)
	}
	logger.Info("engine ready", "version", caps.Version, "h264", caps.H264)
	if info, err := engine.BuildInfo(ctx); err != nil {
		logger.Warn("engine build info unavailable", "error", err)
	} else {
		logger.Debug("engine build", "revision", info.Revision, "config", info.Config, "binding", info.Binding)
	}

	sessions := display.NewDirectory()
	bridge := rdpbridge.New(engine, caps,
		rdpbridge.WithLogger(logger),
		rdpbridge.WithSessionDirectory(sessions),
		rdpbridge.WithClientHostname(cfg.Client.Hostname),
		rdpbridge.WithStoragePath(cfg.Client.StoragePath),
	)

	h, err := bridge.Create(ctx)
	if err != nil {
		return err
	}

	prompter := rdpbridge.NewPrompter(h, cfg.Prompt.Timeout)
	go answerPrompts(ctx, prompter, cfg.Prompt, logger)

	sess := display.NewSession(h, bridge, display.WithLogger(logger), display.WithPrompter(prompter))
	sessions.Add(sess)
	defer sessions.Remove(h)

	lc := newLifecycle(logger)
	bridge.SetEventListener(lc)

	if err := bridge.SetConnectionInfoURI(ctx, h, uri); err != nil {
		return err
	}
	if err := bridge.Connect(ctx, h); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("interrupted, disconnecting")
	case <-lc.ended:
	case <-engine.Done():
		return fmt.Errorf("engine connection lost: %w", engine.Err())
	}

	if snapshot != "" {
		if err := sess.Canvas().SavePNG(snapshot); err != nil {
			logger.Warn("snapshot not written", "path", snapshot, "error", err)
		} else {
			logger.Info("snapshot written", "path", snapshot)
		}
	}

	freeCtx, cancel := context.WithTimeout(context.Background(), freeTimeout)
	defer cancel()

	if lc.Failed() {
		if msg, err := bridge.LastError(freeCtx, h); err == nil && msg != "" {
			logger.Warn("connection failed", "reason", msg)
		}
	}
	if err := bridge.Free(freeCtx, h); err != nil {
		return err
	}
	if lc.Failed() {
		return errors.New("connection failed")
	}
	return nil
}

// answerPrompts answers every prompt from the configured credentials and
// certificate policy.
func answerPrompts(ctx context.Context, p *rdpbridge.Prompter, cfg config.PromptConfig, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case pr := <-p.Requests():
			switch pr.Kind {
			case rdpbridge.PromptCredentials, rdpbridge.PromptGatewayCredentials:
				if cfg.Username == "" && pr.Credentials.Username == "" {
					logger.Warn("no credentials configured", "prompt", pr.Kind)
					pr.Cancel()
					continue
				}
				creds := pr.Credentials
				if cfg.Username != "" {
					creds = rdpbridge.Credentials{Username: cfg.Username, Domain: cfg.Domain, Password: cfg.Password}
				}
				pr.Login(creds)
			case rdpbridge.PromptCertificate, rdpbridge.PromptChangedCertificate:
				logger.Info("certificate presented",
					"host", pr.Certificate.Host,
					"subject", pr.Certificate.Subject,
					"fingerprint", pr.Certificate.Fingerprint,
					"flags", pr.Certificate.Flags,
					"accepted", cfg.AcceptCertificates)
				if cfg.AcceptCertificates {
					pr.Decide(rdpbridge.CertAcceptTemporarily)
				} else {
					pr.Decide(rdpbridge.CertReject)
				}
			}
		}
	}
}

// lifecycle logs connection events and closes ended when the session is
// over.
type lifecycle struct {
	logger *slog.Logger
	ended  chan struct{}
	once   sync.Once

	mu     sync.Mutex
	failed bool
}

func newLifecycle(logger *slog.Logger) *lifecycle {
	return &lifecycle{logger: logger, ended: make(chan struct{})}
}

func (l *lifecycle) end() {
	l.once.Do(func() { close(l.ended) })
}

func (l *lifecycle) Failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *lifecycle) OnPreConnect(h rdpbridge.Handle) {
	l.logger.Info("connecting", "handle", h)
}

func (l *lifecycle) OnConnectionSuccess(h rdpbridge.Handle) {
	l.logger.Info("connected", "handle", h)
}

func (l *lifecycle) OnConnectionFailure(h rdpbridge.Handle) {
	l.logger.Warn("connection failed", "handle", h)
	l.mu.Lock()
	l.failed = true
	l.mu.Unlock()
	l.end()
}

func (l *lifecycle) OnDisconnecting(h rdpbridge.Handle) {
	l.logger.Info("disconnecting", "handle", h)
}

func (l *lifecycle) OnDisconnected(h rdpbridge.Handle) {
	l.logger.Info("disconnected", "handle", h)
	l.end()
}
