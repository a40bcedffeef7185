package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/alerting"
	"github.com/Sarang2401/Precursor-Main/internal/buffer"
	"github.com/Sarang2401/Precursor-Main/internal/common/database"
	mqttcommon "github.com/Sarang2401/Precursor-Main/internal/common/mqtt"
	rediscommon "github.com/Sarang2401/Precursor-Main/internal/common/redis"
	"github.com/Sarang2401/Precursor-Main/internal/config"
	"github.com/Sarang2401/Precursor-Main/internal/consumer"
	"github.com/Sarang2401/Precursor-Main/internal/ensemble"
	"github.com/Sarang2401/Precursor-Main/internal/features"
	"github.com/Sarang2401/Precursor-Main/internal/geo"
	"github.com/Sarang2401/Precursor-Main/internal/httpapi"
	"github.com/Sarang2401/Precursor-Main/internal/metrics"
	"github.com/Sarang2401/Precursor-Main/internal/model"
	"github.com/Sarang2401/Precursor-Main/internal/poller"
	"github.com/Sarang2401/Precursor-Main/internal/processor"
	"github.com/Sarang2401/Precursor-Main/internal/repository"
	"github.com/Sarang2401/Precursor-Main/internal/rules"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const startupCheckTimeout = 10 * time.Second

// AnomalyService 异常检测服务（整合各层）
type AnomalyService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	processor      *processor.Processor
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
	poller         *poller.ThingSpeakPoller
	httpServer     *http.Server
}

// NewAnomalyService 创建服务：加载 scaler 与路线、检查模型可用性、按配置连接 Redis / MQTT
// 任何启动期依赖不可用都直接返回错误，不以降级状态启动
func NewAnomalyService(cfg *config.Config, logger *zap.Logger) (*AnomalyService, error) {
	metrics.Init()

	s := &AnomalyService{
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	defer cancel()

	// 1. 特征管道（scaler 必须与训练时一致）
	scaler, err := features.LoadMinMaxScaler(cfg.Models.ScalerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scaler: %w", err)
	}
	pipeline := features.NewPipeline(scaler, cfg.Detection.SeqLen, logger)

	// 2. 路线参考
	waypoints, err := s.loadRoute(ctx)
	if err != nil {
		s.Stop()
		return nil, err
	}
	logger.Info("Route reference loaded",
		zap.String("source", cfg.Route.Source),
		zap.Int("waypoints", len(waypoints)),
	)

	engine := rules.NewEngine(rules.Thresholds{
		TempMin:         cfg.Detection.TempMin,
		TempMax:         cfg.Detection.TempMax,
		HumMin:          cfg.Detection.HumMin,
		HumMax:          cfg.Detection.HumMax,
		RouteToleranceM: cfg.Detection.RouteToleranceM,
	}, geo.NewReference(waypoints))

	// 3. 模型客户端
	outlierModel := model.NewHTTPOutlierModel(cfg.Models.OutlierURL, cfg.Models.OutlierName, cfg.Models.Timeout, logger)
	reconModel := model.NewHTTPReconstructionModel(cfg.Models.ReconstructionURL, cfg.Models.ReconstructionName, cfg.Models.Timeout, logger)
	if err := outlierModel.CheckAvailable(ctx); err != nil {
		s.Stop()
		return nil, fmt.Errorf("outlier model not available: %w", err)
	}
	if err := reconModel.CheckAvailable(ctx); err != nil {
		s.Stop()
		return nil, fmt.Errorf("reconstruction model not available: %w", err)
	}
	adapter := model.NewAdapter(outlierModel, reconModel, cfg.Models.Timeout, model.BreakerSettings{
		ConsecutiveFailures: cfg.Models.BreakerFailures,
		OpenTimeout:         cfg.Models.BreakerOpenTimeout,
	}, logger)

	// 4. Redis（报警推送或 Streams 接入任一开启时才连接）
	var publisher alerting.Publisher = alerting.NopPublisher{}
	if cfg.Alerts.PublishEnabled || cfg.Ingest.StreamEnabled {
		s.redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}
	if cfg.Alerts.PublishEnabled {
		publisher = alerting.NewRedisPublisher(s.redisClient, cfg.Alerts.Stream, cfg.Alerts.StreamMaxLen, logger)
	}

	// 5. 处理器
	s.processor = processor.NewProcessor(processor.Dependencies{
		Buffers:  buffer.NewStore(cfg.Detection.SeqLen),
		Rules:    engine,
		Features: pipeline,
		Models:   adapter,
		Scorer: ensemble.NewScorer(ensemble.Config{
			WeightReconstruction:     cfg.Detection.WeightReconstruction,
			WeightOutlier:            cfg.Detection.WeightOutlier,
			RiskHigh:                 cfg.Detection.RiskHigh,
			RiskMedium:               cfg.Detection.RiskMedium,
			ReconstructionAlpha:      cfg.Detection.ReconstructionAlpha,
			EnvironmentNormThreshold: cfg.Detection.EnvironmentNormThreshold,
		}),
		Alerts:    alerting.NewStore(cfg.Detection.MaxAlerts),
		Publisher: publisher,
	}, processor.Config{
		IFWindow:                     cfg.Detection.IFWindow,
		ReconstructionErrorThreshold: cfg.Detection.ReconstructionErrorThreshold,
	}, logger)

	// 6. 接入层
	if cfg.Ingest.StreamEnabled {
		s.streamConsumer = consumer.NewStreamConsumer(consumer.StreamConfig{
			Stream:        cfg.Ingest.ReadingsStream,
			ConsumerGroup: cfg.Ingest.ConsumerGroup,
			ConsumerName:  cfg.Ingest.ConsumerName,
			BatchSize:     cfg.Ingest.BatchSize,
		}, s.redisClient, s.processor, logger)
	}

	if cfg.Ingest.MQTTEnabled {
		s.mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttConsumer = consumer.NewMQTTConsumer(s.mqttClient, cfg.Ingest.MQTTTopic, cfg.MQTT.QoS, s.processor, logger)
	}

	var checker httpapi.ThingSpeakChecker
	if cfg.ThingSpeakEnabled() {
		s.poller = poller.NewThingSpeakPoller(poller.Config{
			BaseURL:   cfg.ThingSpeak.BaseURL,
			ChannelID: cfg.ThingSpeak.ChannelID,
			ReadKey:   cfg.ThingSpeak.ReadKey,
			Interval:  cfg.ThingSpeak.PollInterval,
		}, s.processor, logger)
		checker = s.poller
	}

	// 7. HTTP
	router := httpapi.NewRouter(logger)
	router.RegisterRoutes(httpapi.NewHandler(s.processor, checker, logger))
	s.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// loadRoute 按 ROUTE_SOURCE 加载预期路线
func (s *AnomalyService) loadRoute(ctx context.Context) ([]geo.Waypoint, error) {
	switch s.config.Route.Source {
	case "none":
		return nil, nil
	case "postgres":
		db, err := database.NewPostgresDB(&s.config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		s.db = db

		repo, err := repository.NewRouteRepository(db, s.config.Route.Table, s.logger)
		if err != nil {
			return nil, err
		}
		return repo.LoadWaypoints(ctx)
	default:
		return repository.LoadRouteCSV(s.config.Route.CSVPath, s.logger)
	}
}

// Processor 处理器（测试与嵌入使用）
func (s *AnomalyService) Processor() *processor.Processor {
	return s.processor
}

// Start 启动全部组件，阻塞直到 ctx 取消或某个组件出错
func (s *AnomalyService) Start(ctx context.Context) error {
	s.logger.Info("Starting anomaly service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.Int("seq_len", s.config.Detection.SeqLen),
		zap.Int("if_window", s.config.Detection.IFWindow),
		zap.Bool("mqtt_enabled", s.mqttConsumer != nil),
		zap.Bool("stream_enabled", s.streamConsumer != nil),
		zap.Bool("thingspeak_enabled", s.poller != nil),
		zap.Bool("alert_publish_enabled", s.config.Alerts.PublishEnabled),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 4)
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	if s.streamConsumer != nil {
		run("stream consumer", s.streamConsumer.Start)
	}
	if s.mqttConsumer != nil {
		run("mqtt consumer", s.mqttConsumer.Start)
	}
	if s.poller != nil {
		run("thingspeak poller", func(ctx context.Context) error {
			s.poller.Start(ctx)
			return nil
		})
	}
	run("http server", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("Failed to shutdown http server", zap.Error(err))
			}
		}()

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var err error
	select {
	case <-ctx.Done():
	case err = <-errChan:
	}
	cancel()
	wg.Wait()

	return err
}

// Stop 释放外部连接
func (s *AnomalyService) Stop() error {
	s.logger.Info("Stopping anomaly service")

	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis",
				zap.Error(err),
			)
		}
	}

	return nil
}
