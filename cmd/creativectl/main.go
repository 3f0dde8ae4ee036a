package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"creativehub/internal/bootstrap"
	"creativehub/internal/infra"
	"creativehub/internal/infra/credentials"
	"creativehub/internal/middleware"
	"creativehub/internal/queue"
)

type cli struct {
	EnvFile string `help:"Dotenv file loaded before the environment." default:".env" type:"path"`

	ProcessNext ProcessNextCmd `cmd:"" help:"Claim and process pending generation jobs."`
	Reconcile   ReconcileCmd   `cmd:"" help:"Run one consistency pass over all requests."`
	GeminiKey   GeminiKeyCmd   `cmd:"" help:"Manage the stored Gemini API key."`
	Token       TokenCmd       `cmd:"" help:"Mint a bearer token for a user."`
}

type env struct {
	ctx    context.Context
	cfg    *infra.Config
	logger zerolog.Logger
}

func (r *env) open() (*bootstrap.Services, error) {
	return bootstrap.Open(r.ctx, r.cfg, r.logger)
}

type ProcessNextCmd struct {
	Count int  `help:"Maximum number of invocations." default:"1"`
	Drain bool `help:"Keep going until the queue is empty."`
}

func (c *ProcessNextCmd) Run(rt *env) error {
	svc, err := rt.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	consumer := svc.Consumer(rt.ctx, rt.cfg, rt.logger)
	for i := 0; c.Drain || i < c.Count; i++ {
		out := consumer.ProcessNext(rt.ctx)
		if err := printJSON(outcomeJSON(out)); err != nil {
			return err
		}
		if !out.Processed && out.JobID == "" {
			break
		}
		if rt.ctx.Err() != nil {
			return rt.ctx.Err()
		}
	}
	return nil
}

func outcomeJSON(out queue.Outcome) map[string]any {
	m := map[string]any{"processed": out.Processed}
	if out.JobID != "" {
		m["job_id"] = out.JobID
	}
	if out.Err != nil {
		m["error"] = out.Err.Error()
	}
	return m
}

type ReconcileCmd struct{}

func (c *ReconcileCmd) Run(rt *env) error {
	svc, err := rt.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	report := svc.Reconciler.Reconcile(rt.ctx)
	out := map[string]any{"scanned": report.Scanned, "corrected_count": report.CorrectedCount}
	if report.Err != nil {
		out["error"] = report.Err.Error()
	}
	return printJSON(out)
}

type GeminiKeyCmd struct {
	Set    GeminiKeySetCmd    `cmd:"" help:"Store or rotate the key."`
	Delete GeminiKeyDeleteCmd `cmd:"" help:"Remove the stored key."`
}

type GeminiKeySetCmd struct {
	Key string `help:"API key; falls back to GEMINI_API_KEY." env:"GEMINI_API_KEY"`
}

func (c *GeminiKeySetCmd) Run(rt *env) error {
	key := strings.TrimSpace(c.Key)
	if key == "" {
		return fmt.Errorf("GEMINI API key is required via --key or environment")
	}
	svc, err := rt.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Credentials.SetToken(rt.ctx, credentials.ProviderGemini, key); err != nil {
		return err
	}
	fmt.Println("gemini api key stored")
	return nil
}

type GeminiKeyDeleteCmd struct{}

func (c *GeminiKeyDeleteCmd) Run(rt *env) error {
	svc, err := rt.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Credentials.DeleteToken(rt.ctx, credentials.ProviderGemini); err != nil {
		return err
	}
	fmt.Println("gemini api key removed")
	return nil
}

type TokenCmd struct {
	UserID string        `arg:"" help:"User id (uuid)."`
	Locale string        `help:"Locale claim." default:"en" enum:"en,id"`
	TTL    time.Duration `help:"Token lifetime." default:"24h"`
}

func (c *TokenCmd) Run(rt *env) error {
	token, err := middleware.SignToken(rt.cfg.JWTSecret, c.UserID, c.Locale, c.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(v)
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("creativectl"),
		kong.Description("Operate the creative generation backend."),
		kong.UsageOnError(),
	)

	infra.LoadDotEnv(c.EnvFile)
	cfg, err := infra.LoadConfig()
	kctx.FatalIfErrorf(err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, "creativectl")
	kctx.FatalIfErrorf(kctx.Run(&env{ctx: ctx, cfg: cfg, logger: logger}))
}
