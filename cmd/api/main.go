// @title           LayoutLens API
// @version         1.0
// @description     Asynchronous document field extraction with a reviewer surface, layout templates and template alignment.
// @termsOfService  http://swagger.io/terms/

// @contact.name    akolanti
// @contact.url
// @contact.email

// @license.name    Apache 2.0
// @license.url     http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:3000
// @BasePath  /
// @schemes   http https
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/akolanti/layoutlens/internal/alignment"
	"github.com/akolanti/layoutlens/internal/annotation"
	"github.com/akolanti/layoutlens/internal/config"
	"github.com/akolanti/layoutlens/internal/customHttpClient"
	"github.com/akolanti/layoutlens/internal/data/store"
	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
	jobmodel "github.com/akolanti/layoutlens/internal/domain/jobModel"
	"github.com/akolanti/layoutlens/internal/gateway"
	"github.com/akolanti/layoutlens/internal/gateway/geminiEngine"
	"github.com/akolanti/layoutlens/internal/gateway/httpEngine"
	"github.com/akolanti/layoutlens/internal/geometry"
	"github.com/akolanti/layoutlens/internal/handlers"
	"github.com/akolanti/layoutlens/internal/job"
	"github.com/akolanti/layoutlens/internal/scheduler"
	"github.com/akolanti/layoutlens/internal/server"
	"github.com/akolanti/layoutlens/internal/template"
	"github.com/akolanti/layoutlens/internal/worker"
	"github.com/akolanti/layoutlens/pkg/logger_i"
	"github.com/joho/godotenv"
)

var (
	listenAddr        string
	tuningFile        string
	requestCount      int64
	stopWorkerChannel chan bool
	workerWaitGroup   sync.WaitGroup
)

func main() {
	//a missing .env is fine, the process env still applies
	envErr := godotenv.Load()
	config.Reload()

	logger_i.Init()
	var logger = logger_i.NewLogger("main")
	if envErr != nil {
		logger.Debug("no .env file loaded", "error", envErr)
	}

	//config
	flag.StringVar(&listenAddr, "listen-addr", config.ServerListenAddr, "server listen address")
	flag.StringVar(&tuningFile, "tuning", config.TuningFile, "yaml file overriding the extraction thresholds")
	flag.Parse()

	tuning, err := config.LoadTuning(tuningFile)
	if err != nil {
		logger.Error("Could not load tuning file, using defaults", "file", tuningFile, "error", err)
	}

	//init buffered job channel
	jobChannel := make(chan jobmodel.Job, config.BufferLimit)
	dispatcherChannel := make(chan bool, 1)
	stopWorkerChannel = make(chan bool, 1)

	serviceContext, closeExternalServices := context.WithCancel(context.Background())
	defer closeExternalServices()

	engine := newEngine(serviceContext, logger)
	if engine == nil {
		logger.Error("Extraction engine failed to initialize. Shutting down.", "kind", config.EngineKind)
		return
	}
	engine = gateway.WithMetrics(config.EngineKind, engine)

	sessions := annotation.NewRegistry(engine)

	//init job service and stores
	serviceConfig := job.ServiceConfig{
		JobChannel:        jobChannel,
		RequestCount:      requestCount,
		DispatcherChannel: dispatcherChannel,
		Sessions:          sessions,
	}
	logger.Info("Starting job service")

	if jobStore := store.GetRedisJobStore(serviceContext); jobStore != nil {
		serviceConfig.JobStore = jobStore
	} else {
		logger.Error("Redis job store is offline, runs will not survive a restart")
		serviceConfig.JobStore = store.InitInMemoryJobStore()
	}
	serviceConfig.TemplateStore = templateStore(serviceContext, logger)
	service := job.InitJobService(serviceConfig)
	service.StartJanitor(serviceContext, config.JanitorInterval)

	roundScheduler := scheduler.New(engine, tuning.Scheduler)

	handlers.InitJobHandler(service)
	handlers.InitReviewHandler(handlers.ReviewConfig{
		Sessions:  sessions,
		Templates: template.NewService(serviceConfig.TemplateStore, template.NewMatcher(tuning.Matcher)),
		Aligner:   alignment.NewAligner(engine, tuning.Alignment),
		Engine:    engine,
		Mapper:    geometry.NewMapper(tuning.Geometry.MinDrawPixels),
	})

	//init worker pool
	worker.InitServices(service, roundScheduler)
	worker.InitWorkerPool(stopWorkerChannel, &workerWaitGroup)

	//server handling
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)
	stopExecution := make(chan bool, 1)

	shutdownParams := server.ShutdownParams{
		GracefulShutdown: gracefulShutdown,
		StopExecution:    stopExecution,
		WorkerStop:       stopWorkerChannel,
		Group:            &workerWaitGroup,
		CloseServices:    closeExternalServices,
	}
	go server.ShutDownHandler(shutdownParams)
	go server.CreateServer(listenAddr)

	<-stopExecution
	logger.Info("Server stopped")
}

func newEngine(ctx context.Context, logger *logger_i.Logger) gateway.Engine {
	switch config.EngineKind {
	case config.EngineKindGemini:
		if config.GeminiAPIKey == "" {
			logger.Error("GEMINI_API_KEY is not set")
			return nil
		}
		return geminiEngine.GetGeminiEngine(ctx, config.GeminiModelName, config.GeminiAPIKey)
	case config.EngineKindHTTP:
		client := httpEngine.NewClient(config.EngineURL, customHttpClient.GetClient(), config.EngineRequestTimeout)
		if err := client.Ping(ctx); err != nil {
			//the sidecar may come up after us, runs fail with a retryable error until then
			logger.Warn("Engine sidecar is not reachable yet", "url", config.EngineURL, "error", err)
		}
		return client
	default:
		logger.Error("Unknown engine kind", "kind", config.EngineKind)
		return nil
	}
}

func templateStore(ctx context.Context, logger *logger_i.Logger) fieldModel.TemplateStore {
	if s := store.GetRedisTemplateStore(ctx); s != nil {
		return s
	}
	logger.Error("Redis template store is offline, templates are kept in memory")
	return store.InitInMemoryTemplateStore()
}
