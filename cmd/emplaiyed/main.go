package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jpelletierorg/emplaiyed/internal/analytics"
	"github.com/jpelletierorg/emplaiyed/internal/api"
	"github.com/jpelletierorg/emplaiyed/internal/circuitbreaker"
	"github.com/jpelletierorg/emplaiyed/internal/config"
	"github.com/jpelletierorg/emplaiyed/internal/cron"
	"github.com/jpelletierorg/emplaiyed/internal/dispatcher"
	"github.com/jpelletierorg/emplaiyed/internal/domain"
	"github.com/jpelletierorg/emplaiyed/internal/funnel"
	"github.com/jpelletierorg/emplaiyed/internal/gate"
	"github.com/jpelletierorg/emplaiyed/internal/leaderelection"
	"github.com/jpelletierorg/emplaiyed/internal/ledger"
	"github.com/jpelletierorg/emplaiyed/internal/metrics"
	"github.com/jpelletierorg/emplaiyed/internal/scheduler"
	"github.com/jpelletierorg/emplaiyed/internal/store/postgres"
	"github.com/jpelletierorg/emplaiyed/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// profileID is the single tracked job seeker. Multi-profile support would
// move this into the applications' owning rows.
var profileID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "scan":
		os.Exit(runScan())
	case "status":
		os.Exit(runStatus())
	case "list":
		os.Exit(runList(os.Args[2:]))
	case "show":
		os.Exit(runShow(os.Args[2:]))
	case "event":
		os.Exit(runEvent(os.Args[2:]))
	case "actions":
		os.Exit(runActions())
	case "approve":
		os.Exit(runDecide(os.Args[2:], "approve"))
	case "decline":
		os.Exit(runDecide(os.Args[2:], "decline"))
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`emplaiyed - job application lifecycle engine

Usage:
  emplaiyed <command> [args]

Commands:
  serve               Start the scheduler, dispatcher, and API server
  scan                Run one scan-and-dispatch cycle and exit

  status              Show the funnel stage counts
  list [stage]        List applications, optionally filtered by stage
  show <id>           Show one application with its history
  event <id> <event>  Record a lifecycle event on an application
  actions             List actions waiting for approval
  approve <fp>        Approve a held action by fingerprint
  decline <fp>        Decline a held action by fingerprint

  validate            Validate configuration (no connections made)
  config              Print effective configuration as JSON (secrets masked)
  version             Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  EMPLAIYED_ADDR            Server base URL for client commands (default: "http://localhost:8080")

  SCAN_SCHEDULE             Cron expression for scans (default: "*/5 * * * *")
  TIMEZONE                  Schedule timezone (default: "UTC")
  COOLDOWN_DAYS             Days of silence before a follow-up (default: "5")
  FOLLOWUP_BUDGET           Follow-ups before ghosting (default: "2")
  PREP_LEAD_WINDOW          Prep alert lead time before events (default: "24h")
  OFFER_DEADLINE_WINDOW     Negotiation alert window before deadlines (default: "72h")
  MAX_ACTIONS_PER_SCAN      Plan size cap per scan (default: "50")

  APPROVAL_TIMEOUT          Wait before a held action is declined (default: "30m")
  CHANNEL_TIMEOUT           Per-webhook call timeout (default: "10s")
  DECLINE_POLICY            "release" or "skip" (default: "release")
  AUTO_APPROVE              Comma-separated action kinds that skip approval

  RESERVATION_TTL           Age before an abandoned reservation is released (default: "1h")
  SWEEP_INTERVAL            Reservation sweep cadence (default: "5m")
  SWEEP_BATCH_SIZE          Max reservations released per sweep (default: "100")
  BUS_BUFFER_SIZE           Action bus buffer size (default: "100")

  OUTREACH_WEBHOOK_URL      Follow-up collaborator endpoint
  PREP_WEBHOOK_URL          Interview prep collaborator endpoint
  NOTIFY_WEBHOOK_URL        Notification collaborator endpoint
  WEBHOOK_SECRET            HMAC secret for signed payloads

  CIRCUIT_BREAKER_THRESHOLD Failures before an endpoint opens (default: "5", "0" disables)
  CIRCUIT_BREAKER_COOLDOWN  Open-state cooldown (default: "2m")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  LEADER_ELECTION_ENABLED   Enable advisory-lock leader election (default: "false")
  LEADER_LOCK_KEY           Shared advisory lock key (default: "815233")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db)

	sched, err := cron.NewParser().Parse(cfg.ScanSchedule, cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid scan schedule: %v\n", err)
		return exitInvalidConfig
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("emplaiyed: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("emplaiyed: METRICS_ENABLED not set; metrics disabled")
	}

	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewActionBus(cfg.BusBufferSize, busOpts...)

	fn := funnel.NewService(store)
	led := ledger.New(store)
	broker := gate.NewBroker()

	scanner := scheduler.New(schedulerPolicy(cfg), store, bus)
	if metricsSink != nil {
		scanner = scanner.WithMetrics(metricsSink)
	}

	disp := dispatcher.New(dispatcherConfig(cfg), store, led, fn, dispatcher.NewHTTPChannelSender()).
		WithApprovals(broker).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.Config{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		})
		disp = disp.WithAnalytics(analytics.NewRecorder(sink))
		log.Printf("emplaiyed: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("emplaiyed: REDIS_ADDR not set; analytics disabled")
	}

	sweeper := ledger.NewSweeper(ledger.SweepConfig{
		Interval:  cfg.SweepInterval,
		TTL:       cfg.ReservationTTL,
		BatchSize: cfg.SweepBatchSize,
	}, store)
	if metricsSink != nil {
		sweeper = sweeper.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(store, fn, profileID).
		WithScanner(scanner).
		WithApprovals(broker).
		WithHealthChecker(db)

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("emplaiyed: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("emplaiyed: http server error: %v", err)
		}
	}()

	// The dispatcher outlives the scan loop so a final scan's actions still
	// drain on shutdown.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	// Leader duties: the scan loop and the reservation sweeper. With leader
	// election disabled they run unconditionally.
	runLeaderDuties := func(ctx context.Context, wg *sync.WaitGroup) {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := scanner.Run(ctx, sched); err != nil && ctx.Err() == nil {
				log.Printf("emplaiyed: scan loop error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			sweeper.Run(ctx)
		}()
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	var leaderWg sync.WaitGroup

	if cfg.LeaderEnabled {
		var dutiesWg sync.WaitGroup
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(ctx context.Context) {
				runLeaderDuties(ctx, &dutiesWg)
			},
			func() {
				dutiesWg.Wait()
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			elector.Run(leaderCtx)
		}()
		log.Printf("emplaiyed: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		runLeaderDuties(leaderCtx, &leaderWg)
		log.Println("emplaiyed: LEADER_ELECTION_ENABLED not set; running standalone")
	}

	log.Printf("emplaiyed: started (schedule=%q, http=%s)", cfg.ScanSchedule, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("emplaiyed: received signal %v, shutting down", received)

	// Phase 1: stop the scan loop and sweeper (no new actions planned)
	log.Println("emplaiyed: stopping scan loop...")
	cancelLeader()
	leaderWg.Wait()
	log.Println("emplaiyed: scan loop stopped")

	// Phase 2: stop the dispatcher (drains buffered actions before returning)
	log.Println("emplaiyed: stopping dispatcher (draining actions)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("emplaiyed: dispatcher stopped")

	// Phase 3: stop the HTTP server with graceful shutdown
	log.Println("emplaiyed: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("emplaiyed: http server shutdown error: %v", err)
	}
	log.Println("emplaiyed: http server stopped")

	log.Println("emplaiyed: stopped")
	return exitSuccess
}

// runScan executes one scan-and-dispatch cycle without the server. There is
// no approval broker in this mode, so gated actions are released back for a
// serving instance to pick up.
func runScan() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	store := postgres.New(db)
	fn := funnel.NewService(store)
	led := ledger.New(store)
	bus := channel.NewActionBus(cfg.BusBufferSize)

	scanner := scheduler.New(schedulerPolicy(cfg), store, bus)
	disp := dispatcher.New(dispatcherConfig(cfg), store, led, fn, dispatcher.NewHTTPChannelSender())
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	ctx := context.Background()
	emitted, err := scanner.ScanAndEmit(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		return exitRuntimeError
	}

	dispatched := 0
	for {
		select {
		case action := <-bus.Channel():
			if err := disp.Dispatch(ctx, action); err != nil {
				log.Printf("emplaiyed: %s for %s: %v", action.Kind, action.ApplicationID, err)
			}
			dispatched++
			continue
		default:
		}
		break
	}

	fmt.Printf("planned %d actions, dispatched %d\n", emitted, dispatched)
	return exitSuccess
}

func schedulerPolicy(cfg config.Config) scheduler.Policy {
	return scheduler.Policy{
		Cooldown:            time.Duration(cfg.CooldownDays) * 24 * time.Hour,
		FollowUpBudget:      cfg.FollowUpBudget,
		PrepLeadWindow:      cfg.PrepLeadWindow,
		OfferDeadlineWindow: cfg.OfferDeadlineWindow,
		MaxActionsPerScan:   cfg.MaxActionsPerScan,
	}
}

func dispatcherConfig(cfg config.Config) dispatcher.Config {
	gatePolicy := gate.Policy{}
	for _, kind := range cfg.AutoApproveKinds() {
		gatePolicy[domain.ActionKind(kind)] = true
	}

	endpoints := map[domain.ActionKind]dispatcher.Endpoint{}
	if cfg.OutreachWebhookURL != "" {
		endpoints[domain.ActionFollowUp] = dispatcher.Endpoint{Name: "outreach", URL: cfg.OutreachWebhookURL}
	}
	if cfg.PrepWebhookURL != "" {
		endpoints[domain.ActionPrepDue] = dispatcher.Endpoint{Name: "prep", URL: cfg.PrepWebhookURL}
	}
	if cfg.NotifyWebhookURL != "" {
		endpoints[domain.ActionNegotiationUrgent] = dispatcher.Endpoint{Name: "notify", URL: cfg.NotifyWebhookURL}
	}

	return dispatcher.Config{
		ApprovalTimeout: cfg.ApprovalTimeout,
		ChannelTimeout:  cfg.ChannelTimeout,
		DeclinePolicy:   dispatcher.DeclinePolicy(cfg.DeclinePolicy),
		Gate:            gatePolicy,
		Endpoints:       endpoints,
		Secret:          cfg.WebhookSecret,
	}
}

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func runStatus() int {
	return clientGet("/funnel")
}

func runList(args []string) int {
	path := "/applications"
	if len(args) > 0 {
		path += "?stage=" + url.QueryEscape(args[0])
	}
	return clientGet(path)
}

func runShow(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: emplaiyed show <application-id>")
		return exitRuntimeError
	}
	return clientGet("/applications/" + url.PathEscape(args[0]))
}

func runEvent(args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: emplaiyed event <application-id> <event>")
		return exitRuntimeError
	}
	body, _ := json.Marshal(map[string]string{"event": args[1]})
	return clientPost("/applications/"+url.PathEscape(args[0])+"/events", body)
}

func runActions() int {
	return clientGet("/actions")
}

func runDecide(args []string, verb string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: emplaiyed %s <fingerprint>\n", verb)
		return exitRuntimeError
	}
	return clientPost("/actions/"+url.PathEscape(args[0])+"/"+verb, nil)
}

func clientGet(path string) int {
	return clientDo(http.MethodGet, path, nil)
}

func clientPost(path string, body []byte) int {
	return clientDo(http.MethodPost, path, body)
}

func clientDo(method, path string, body []byte) int {
	cfg := config.Load()

	req, err := http.NewRequest(method, cfg.ServerAddr+path, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
		return exitRuntimeError
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		return exitRuntimeError
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read response: %v\n", err)
		return exitRuntimeError
	}

	if len(data) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err == nil {
			fmt.Println(pretty.String())
		} else {
			fmt.Println(string(data))
		}
	}

	if resp.StatusCode >= 400 {
		return exitRuntimeError
	}
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("emplaiyed version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
