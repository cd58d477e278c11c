package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HerbHall/relayscan/internal/recon"
	"github.com/HerbHall/relayscan/pkg/models"
	"go.uber.org/zap"
)

// scanFlags holds the parsed arguments of the scan subcommand.
type scanFlags struct {
	configPath  string
	req         recon.ScanRequest
	concurrency int
	timeout     time.Duration
}

func parseScanFlags(args []string, stderr io.Writer) (*scanFlags, error) {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		sf   scanFlags
		ips  string
		user string
		pass string
	)
	fs.StringVar(&sf.configPath, "config", "", "path to configuration file")
	fs.StringVar(&sf.req.CustomerID, "customer", "", "customer ID to reconcile against (required)")
	fs.StringVar(&sf.req.Subnet, "subnet", "", "CIDR or a.b.c.* pattern to sweep")
	fs.StringVar(&ips, "ips", "", "comma-separated IPv4 addresses to probe")
	fs.StringVar(&user, "user", "", "device username; overrides stored credentials")
	fs.StringVar(&pass, "pass", "", "device password; overrides stored credentials")
	fs.IntVar(&sf.concurrency, "concurrency", 0, "parallel probes (0 uses plugins.recon.concurrency)")
	fs.DurationVar(&sf.timeout, "timeout", 0, "per-device probe timeout (0 uses plugins.recon.probe_timeout)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if sf.req.CustomerID == "" {
		return nil, fmt.Errorf("-customer is required")
	}
	if ips != "" {
		for _, ip := range strings.Split(ips, ",") {
			if ip = strings.TrimSpace(ip); ip != "" {
				sf.req.IPList = append(sf.req.IPList, ip)
			}
		}
	}
	if sf.req.Subnet == "" && len(sf.req.IPList) == 0 {
		return nil, fmt.Errorf("one of -subnet or -ips is required")
	}
	sf.req.Credentials = models.Credentials{Username: user, Password: pass}
	sf.req.Concurrency = sf.concurrency
	sf.req.Timeout = sf.timeout
	return &sf, nil
}

// runScan runs one reconciliation without the HTTP server and prints the
// outcome as JSON on stdout.
func runScan(args []string) int {
	sf, err := parseScanFlags(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		return 2
	}

	v, logger, err := loadConfig(sf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, v, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(v))
		defer cancel()
		a.close(closeCtx)
	}()

	if a.recon == nil {
		logger.Error("recon plugin is disabled")
		return 1
	}

	outcome, err := a.recon.Scan(ctx, sf.req)
	if errors.Is(err, recon.ErrScanInProgress) {
		logger.Error("another scan holds the scan gate; retry later")
		return 1
	}
	if err != nil {
		logger.Error("scan failed", zap.String("customer_id", sf.req.CustomerID), zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		logger.Error("write outcome", zap.Error(err))
		return 1
	}
	return 0
}
