package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/CodeWithAsheville/zipcase/pkg/api"
	"github.com/CodeWithAsheville/zipcase/pkg/casestore"
	"github.com/CodeWithAsheville/zipcase/pkg/config"
	"github.com/CodeWithAsheville/zipcase/pkg/events"
	"github.com/CodeWithAsheville/zipcase/pkg/log"
	"github.com/CodeWithAsheville/zipcase/pkg/metrics"
	"github.com/CodeWithAsheville/zipcase/pkg/pipeline"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/casedetail"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/html"
	"github.com/CodeWithAsheville/zipcase/pkg/portal/session"
	"github.com/CodeWithAsheville/zipcase/pkg/queue"
	"github.com/CodeWithAsheville/zipcase/pkg/security"
	"github.com/CodeWithAsheville/zipcase/pkg/storage"
	dataworker "github.com/CodeWithAsheville/zipcase/pkg/worker/data"
	searchworker "github.com/CodeWithAsheville/zipcase/pkg/worker/search"
	"github.com/CodeWithAsheville/zipcase/pkg/waf"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "zipcase",
	Short:   "ZipCase - asynchronous court-case lookup and processing service",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ZipCase version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	metrics.SetVersion(Version)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Request API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		metrics.RegisterComponent("storage", true, "")
		metrics.RegisterComponent("queue", true, "")
		metrics.RegisterComponent("portal", true, "")

		srv := api.NewServer(deps.coordinator, deps.store, deps.sessionMgr)

		ctx, cancel := signalContext()
		defer cancel()

		log.Info("starting Request API on " + addr)
		return srv.Start(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "HTTP listen address")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a pipeline worker",
}

var workerSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run the Stage-1 (search) worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		w := searchWorker(deps, cfg, concurrency)

		ctx, cancel := signalContext()
		defer cancel()

		log.Info("starting search worker")
		return w.Run(ctx)
	},
}

var workerDataCmd = &cobra.Command{
	Use:   "data",
	Short: "Run the Stage-2 (data) worker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		w := dataWorker(deps, cfg, concurrency)

		ctx, cancel := signalContext()
		defer cancel()

		log.Info("starting data worker")
		return w.Run(ctx)
	},
}

func init() {
	workerSearchCmd.Flags().Int("concurrency", 4, "maximum concurrent messages processed")
	workerDataCmd.Flags().Int("concurrency", 4, "maximum concurrent messages processed")
	workerCmd.AddCommand(workerSearchCmd)
	workerCmd.AddCommand(workerDataCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// dataQueueEnqueuer adapts a queue.Queue into casestore.Enqueuer, the
// narrow interface the summary-corruption recovery hook needs to
// re-dispatch a stage-2 message (spec §4.5.1).
type dataQueueEnqueuer struct {
	q queue.Queue
}

func (e *dataQueueEnqueuer) Send(ctx context.Context, caseNumber, caseID, userID string) error {
	body, err := queue.EncodeData(queue.DataBody{CaseNumber: caseNumber, CaseID: caseID, UserID: userID, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	return e.q.Send(ctx, queue.Message{Body: body, GroupID: caseID, DedupID: caseNumber})
}

// deps bundles the wired dependency graph shared by serve and the two
// worker subcommands.
type deps struct {
	store        *casestore.Store
	searchQueue  queue.Queue
	dataQueue    queue.Queue
	sessionMgr   *session.Manager
	coordinator  *pipeline.Coordinator
	portalClient *html.Client
	caseClient   *casedetail.Client
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	kv, err := buildStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage backend: %w", err)
	}

	cipher, err := buildCipher(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	searchQueue, dataQueue, err := buildQueues(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("queue backend: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	store := casestore.New(kv, cipher, broker, &dataQueueEnqueuer{q: dataQueue}, cfg.MaxSummaryRetries)

	sessionMgr := session.NewManager(cfg.PortalURL, store, cipher, waf.StubSolver{})
	coordinator := pipeline.New(store, searchQueue, dataQueue, sessionMgr)

	return &deps{
		store:        store,
		searchQueue:  searchQueue,
		dataQueue:    dataQueue,
		sessionMgr:   sessionMgr,
		coordinator:  coordinator,
		portalClient: html.NewClient(cfg.PortalURL),
		caseClient:   casedetail.NewClient(cfg.PortalCaseURL),
	}, nil
}

func buildStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "bolt":
		return storage.NewBoltStore(cfg.BoltPath)
	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DataTable), nil
	}
}

func buildCipher(ctx context.Context, cfg *config.Config) (security.Cipher, error) {
	if cfg.StorageBackend == "bolt" || cfg.KMSKeyID == "" {
		return security.NewLocalCipherFromPassphrase("zipcase-local-dev")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return security.NewKMSCipher(kms.NewFromConfig(awsCfg), cfg.KMSKeyID), nil
}

func searchWorker(d *deps, cfg *config.Config, concurrency int) *searchworker.Worker {
	return searchworker.New(d.searchQueue, d.dataQueue, d.store, d.sessionMgr, d.portalClient, cfg.ProcessingStaleAfter, concurrency)
}

func dataWorker(d *deps, cfg *config.Config, concurrency int) *dataworker.Worker {
	return dataworker.New(d.dataQueue, d.store, d.sessionMgr, d.caseClient, cfg.DataDupSuppressWindow, concurrency)
}

func buildQueues(ctx context.Context, cfg *config.Config) (search, data queue.Queue, err error) {
	switch cfg.QueueBackend {
	case "memory":
		return queue.NewMemoryQueue(cfg.DataDupSuppressWindow), queue.NewMemoryQueue(cfg.DataDupSuppressWindow), nil
	default:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		client := sqs.NewFromConfig(awsCfg)
		return queue.NewSQSQueue(client, cfg.SearchQueueURL), queue.NewSQSQueue(client, cfg.CaseDataQueueURL), nil
	}
}
