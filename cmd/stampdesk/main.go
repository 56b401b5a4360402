// ABOUTME: Entry point for the stampdesk signing server
// ABOUTME: Subcommands serve, init, token, health and stats

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/stampdesk/internal/auditlog"
	"github.com/2389/stampdesk/internal/auth"
	"github.com/2389/stampdesk/internal/config"
	"github.com/2389/stampdesk/internal/gateway"
	"github.com/2389/stampdesk/internal/harvester"
	"github.com/2389/stampdesk/internal/mailer"
	"github.com/2389/stampdesk/internal/protocol"
	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
	"github.com/2389/stampdesk/internal/workflow"
)

// Version is set at build time.
var version = "dev"

const banner = `
     _                        _           _
 ___| |_ __ _ _ __ ___  _ __   __| | ___  ___| | __
/ __| __/ _' | '_ ' _ \| '_ \ / _' |/ _ \/ __| |/ /
\__ \ || (_| | | | | | | |_) | (_| |  __/\__ \   <
|___/\__\__,_|_| |_| |_| .__/ \__,_|\___||___/_|\_\
                       |_|
`

// envToken supplies the bearer token to the health and stats commands.
const envToken = "STAMPDESK_TOKEN"

func usage() {
	fmt.Println("Usage: stampdesk <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the signing server")
	fmt.Println("  init                   Write a starting config and create data directories")
	fmt.Println("  token --name NAME      Issue an operator token")
	fmt.Println("  health                 Check server health")
	fmt.Println("  stats                  Print signature counts")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "token":
		err = runToken(args)
	case "health":
		err = runHealth(ctx, args)
	case "stats":
		err = runStats(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the resolved config file, or the defaults when none exists.
func loadConfig(flagPath string) (*config.Config, string, error) {
	path := config.ResolvePath(flagPath)
	if path == "" {
		return config.Default(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFlag := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	ring := auditlog.New(cfg.Audit.Capacity)
	defer ring.Close()
	logger := setupLogger(cfg.Logging, ring, os.Stdout)

	printStartup(cfg, configPath)
	logger.Info("starting stampdesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"storage", cfg.Storage.Backend,
	)

	persister, err := openPersister(cfg.Storage)
	if err != nil {
		return err
	}
	st := store.Open(ctx, persister, store.WithLogger(logger))
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	engine := stamping.New(stamping.Config{
		StampDir:      cfg.Stamping.StampDir,
		SignedDir:     cfg.Storage.SignedDir,
		EngineerImage: cfg.Stamping.EngineerImage,
		CompanyImage:  cfg.Stamping.CompanyImage,
		Identity: stamping.Identity{
			EngineerName:  cfg.Stamping.EngineerName,
			LicenseNumber: cfg.Stamping.LicenseNumber,
			RoleTitle:     cfg.Stamping.RoleTitle,
		},
	}, stamping.WithLogger(logger))

	sender, err := mailer.New(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}
	if !sender.Settings().Configured {
		logger.Warn("email is not configured; send-signed will fail until configure-email is called")
	}

	svc := workflow.NewService(st, engine, workflow.Config{IntakeDir: cfg.Storage.IntakeDir},
		workflow.WithLogger(logger),
		workflow.WithMailer(sender),
	)
	if n := svc.RecoverStale(ctx); n > 0 {
		logger.Warn("recovered entries left processing by a previous run", "count", n)
	}

	server := protocol.NewServer(svc, ring, protocol.Config{SnapshotTail: cfg.Audit.SnapshotTail}, logger)

	h := harvester.New(cfg.Harvester, server.Intake, harvester.WithLogger(logger))
	defer func() {
		if err := h.Close(); err != nil {
			logger.Warn("stopping harvester", "error", err)
		}
	}()
	svc.SetHarvester(h)
	if cfg.Harvester.Enabled {
		if _, err := svc.StartHarvester(ctx); err != nil {
			logger.Error("harvester failed to start", "error", err)
		}
	}

	gw, err := gateway.New(cfg, server, svc, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func openPersister(cfg config.StorageConfig) (store.Persister, error) {
	switch cfg.Backend {
	case "sqlite":
		p, err := store.NewSQLitePersister(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return p, nil
	default:
		p, err := store.NewJSONFilePersister(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening json store: %w", err)
		}
		return p, nil
	}
}

func printStartup(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	if cfg.Server.HTTPAddr != "" {
		line("HTTP", cfg.Server.HTTPAddr)
	}
	line("Storage", cfg.Storage.Backend+" "+cfg.Storage.Path)
	line("Stamps", cfg.Stamping.StampDir)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("%-10s ", "Tailscale:")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! Token auth disabled (auth.jwt_secret is empty)")
	}
	if cfg.Harvester.Enabled {
		line("Mailbox", cfg.Harvester.Username+"@"+cfg.Harvester.IMAPAddr+" "+cfg.Harvester.Mailbox)
	}
	fmt.Println()
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	out := fs.String("config", "stampdesk.yaml", "config file to write")
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *out)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(*out, []byte(config.SampleYAML), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	cfg, err := config.Load(*out)
	if err != nil {
		return fmt.Errorf("checking written config: %w", err)
	}
	dirs := []string{
		filepath.Dir(cfg.Storage.Path),
		cfg.Storage.IntakeDir,
		cfg.Storage.SignedDir,
		cfg.Stamping.StampDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	green.Printf("  ✓ Created config: %s\n", *out)
	for _, dir := range dirs {
		green.Printf("  ✓ Directory: %s\n", dir)
	}
	fmt.Println()
	yellow.Println("  Next steps:")
	fmt.Printf("    export STAMPDESK_JWT_SECRET=%s\n", base64.StdEncoding.EncodeToString(secret))
	fmt.Printf("    cp engineer.png company.png %s/\n", cfg.Stamping.StampDir)
	fmt.Println("    stampdesk token --name \"Your Name\"")
	fmt.Println("    stampdesk serve")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFlag := fs.String("config", "", "config file path")
	name := fs.String("name", "", "operator name carried in the token")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	operator := strings.TrimSpace(*name)
	if operator == "" {
		return errors.New("--name is required")
	}
	if len(operator) > 100 {
		return errors.New("name exceeds maximum length of 100 characters")
	}

	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(operator, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	color.New(color.FgHiBlack).Fprintf(os.Stderr, "expires %s\n", time.Now().Add(*ttl).Format("Jan 02, 2006"))
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configFlag := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg, "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func runStats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configFlag := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configFlag)
	if err != nil {
		return err
	}

	resp, err := get(ctx, cfg, "/api/stats")
	if err != nil {
		return fmt.Errorf("stats request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(string(body))
	return nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func get(ctx context.Context, cfg *config.Config, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.Server.HTTPAddr+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if token := os.Getenv(envToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return httpClient.Do(req)
}
