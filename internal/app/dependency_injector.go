package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"ifcsplit/internal/domain"
	"ifcsplit/internal/infra/config"
	"ifcsplit/internal/infra/filestore"
	jobstore "ifcsplit/internal/infra/store/job"
	"ifcsplit/internal/split"
	"ifcsplit/internal/transport"
	"ifcsplit/internal/usecase"
	"ifcsplit/internal/webhook"
	"ifcsplit/internal/worker"

	"github.com/redis/go-redis/v9"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

// JobStore is the full store surface; both backends implement it.
type JobStore interface {
	CreateJob(job domain.Job) error
	Job(id string) (domain.Job, bool)
	PendingJobs(limit int) []domain.Job
	Jobs() []domain.Job
	MarkProcessing(id string) error
	Complete(id, outputFilename string) error
	Fail(id string, kind domain.ErrorKind, message string) error
	ActiveJobs() int
	DeleteTerminalBefore(cutoff time.Time) []domain.Job
}

type dependencyInjector struct {
	cfgPath string

	cfg    *config.Config
	logger *slog.Logger

	redis    *redis.Client
	jobStore JobStore
	files    *filestore.Manager
	splitter split.Splitter
	notifier *webhook.Notifier
	pool     *worker.Pool

	usecase transport.Usecase
	handler transport.Handler
	router  Router
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}
	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("redis ping: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) JobStore(ctx context.Context) JobStore {
	if di.jobStore == nil {
		cfg := di.Config()
		switch cfg.Store.Backend {
		case "redis":
			st, err := jobstore.NewRedisStore(ctx, di.RedisClient(ctx))
			if err != nil {
				log.Fatalf("JobStore redis: %+v", err)
			}
			di.jobStore = st
			di.Logger().Info("using redis job store")
		default:
			st, err := jobstore.NewFileStore(cfg.Store.StateDir)
			if err != nil {
				log.Fatalf("JobStore file: %+v", err)
			}
			di.jobStore = st
			di.Logger().Info("using file job store", slog.String("state_dir", cfg.Store.StateDir))
		}
	}
	return di.jobStore
}

func (di *dependencyInjector) Files(ctx context.Context) *filestore.Manager {
	if di.files == nil {
		cfg := di.Config()

		switch cfg.Storage.Backend {
		case "minio":
			client, err := filestore.NewMinIOClient(ctx, filestore.MinIOConfig{
				Endpoint:        cfg.MinIO.Endpoint,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
			})
			if err != nil {
				log.Fatalf("FileStore minio: %+v", err)
			}
			uploads := filestore.NewMinIOStore(client, cfg.MinIO.Bucket, cfg.Storage.UploadDir)
			outputs := filestore.NewMinIOStore(client, cfg.MinIO.Bucket, cfg.Storage.OutputDir)
			di.files = filestore.NewManager(uploads, outputs)
			di.Logger().Info("using MinIO file store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		default:
			uploads, err := filestore.NewLocalStore(cfg.Storage.UploadDir)
			if err != nil {
				log.Fatalf("FileStore local uploads: %+v", err)
			}
			outputs, err := filestore.NewLocalStore(cfg.Storage.OutputDir)
			if err != nil {
				log.Fatalf("FileStore local outputs: %+v", err)
			}
			di.files = filestore.NewManager(uploads, outputs)
			di.Logger().Info("using local file store",
				slog.String("upload_dir", cfg.Storage.UploadDir),
				slog.String("output_dir", cfg.Storage.OutputDir),
			)
		}
	}
	return di.files
}

func (di *dependencyInjector) Splitter() split.Splitter {
	if di.splitter == nil {
		cfg := di.Config().Splitter
		s, err := split.NewExecSplitter(cfg.Command, cfg.ExtraArgs)
		if err != nil {
			log.Fatalf("Splitter: %+v", err)
		}
		di.splitter = s
		di.Logger().Info("using exec splitter", slog.String("command", cfg.Command))
	}
	return di.splitter
}

func (di *dependencyInjector) Notifier() *webhook.Notifier {
	if di.notifier == nil {
		cfg := di.Config().Webhook
		di.notifier = webhook.NewNotifier(
			cfg.MaxAttempts,
			cfg.InitialBackoff,
			cfg.MaxBackoff,
			cfg.RequestTimeout,
		)
	}
	return di.notifier
}

func (di *dependencyInjector) Pool(ctx context.Context) *worker.Pool {
	if di.pool == nil {
		cfg := di.Config().Worker
		di.pool = worker.NewPool(
			cfg.PoolSize,
			cfg.PollInterval,
			cfg.JobTimeout,
			di.JobStore(ctx),
			di.Files(ctx),
			di.Splitter(),
			di.Notifier(),
		)
	}
	return di.pool
}

func (di *dependencyInjector) Usecase(ctx context.Context) transport.Usecase {
	if di.usecase == nil {
		cfg := di.Config()
		di.usecase = usecase.New(
			cfg.Worker.PoolSize,
			usecase.Paths{
				UploadDir: cfg.Storage.UploadDir,
				OutputDir: cfg.Storage.OutputDir,
				StateDir:  cfg.Store.StateDir,
			},
			di.JobStore(ctx),
			di.Files(ctx),
		)
	}
	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}
	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		di.router = transport.NewRouter(di.Handler(ctx))
	}
	return di.router
}
