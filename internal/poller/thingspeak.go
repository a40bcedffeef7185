package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/metrics"
	"github.com/Sarang2401/Precursor-Main/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNoData 频道未配置或没有最新 feed
var ErrNoData = errors.New("no thingspeak data")

// ReadingProcessor 读数处理入口
type ReadingProcessor interface {
	Process(ctx context.Context, reading models.Reading) (models.ResultSummary, error)
}

// Config ThingSpeak 频道配置
type Config struct {
	BaseURL   string
	ChannelID string
	ReadKey   string
	Interval  time.Duration
	Timeout   time.Duration
}

// feed 字段映射：field1 温度、field2 湿度、field3 重量；位置使用 feed 自带的 latitude/longitude
type feed struct {
	CreatedAt string  `json:"created_at"`
	EntryID   int64   `json:"entry_id"`
	Field1    *string `json:"field1"`
	Field2    *string `json:"field2"`
	Field3    *string `json:"field3"`
	Latitude  *string `json:"latitude"`
	Longitude *string `json:"longitude"`
}

type feedsResponse struct {
	Feeds []feed `json:"feeds"`
}

// ThingSpeakPoller 定期拉取 ThingSpeak 频道的最新一条 feed 并送入处理器
type ThingSpeakPoller struct {
	httpClient *resty.Client
	cfg        Config
	processor  ReadingProcessor
	logger     *zap.Logger
	now        func() time.Time
}

// NewThingSpeakPoller 创建轮询器
func NewThingSpeakPoller(cfg Config, processor ReadingProcessor, logger *zap.Logger) *ThingSpeakPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &ThingSpeakPoller{
		httpClient: client,
		cfg:        cfg,
		processor:  processor,
		logger:     logger,
		now:        time.Now,
	}
}

// DeviceID 频道对应的设备标识
func (p *ThingSpeakPoller) DeviceID() string {
	return "thingspeak_" + p.cfg.ChannelID
}

// FetchLatest 拉取最新一条 feed；未配置或无数据时返回 ErrNoData
func (p *ThingSpeakPoller) FetchLatest(ctx context.Context) (models.Reading, error) {
	if p.cfg.ChannelID == "" {
		return models.Reading{}, ErrNoData
	}

	var out feedsResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetPathParam("channel", p.cfg.ChannelID).
		SetQueryParam("api_key", p.cfg.ReadKey).
		SetQueryParam("results", "1").
		SetResult(&out).
		ForceContentType("application/json").
		Get("/channels/{channel}/feeds.json")
	if err != nil {
		return models.Reading{}, fmt.Errorf("failed to fetch thingspeak feed: %w", err)
	}
	if resp.IsError() {
		return models.Reading{}, fmt.Errorf("thingspeak returned status %d", resp.StatusCode())
	}
	if len(out.Feeds) == 0 {
		return models.Reading{}, ErrNoData
	}

	f := out.Feeds[len(out.Feeds)-1]
	payload := map[string]interface{}{
		"device_id": p.DeviceID(),
	}
	if f.CreatedAt != "" {
		payload["timestamp"] = f.CreatedAt
	}
	for key, v := range map[string]*string{
		"temperature": f.Field1,
		"humidity":    f.Field2,
		"weight":      f.Field3,
		"lat":         f.Latitude,
		"lon":         f.Longitude,
	} {
		if v != nil {
			payload[key] = *v
		}
	}

	return models.ReadingFromPayload(payload, p.DeviceID(), p.now())
}

// PollOnce 拉取并处理一次
func (p *ThingSpeakPoller) PollOnce(ctx context.Context) (models.ResultSummary, error) {
	start := time.Now()

	reading, err := p.FetchLatest(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			metrics.IncThingSpeakPoll(err)
		}
		return models.ResultSummary{}, err
	}
	metrics.IncThingSpeakPoll(nil)

	summary, err := p.processor.Process(ctx, reading)
	if err != nil {
		return models.ResultSummary{}, fmt.Errorf("failed to process thingspeak reading: %w", err)
	}
	metrics.ObserveReading("thingspeak", time.Since(start))

	return summary, nil
}

// Start 按固定间隔轮询，阻塞直到 ctx 取消；单次失败只记录日志
func (p *ThingSpeakPoller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("ThingSpeak poller started",
		zap.String("channel_id", p.cfg.ChannelID),
		zap.Duration("interval", p.cfg.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ThingSpeak poller stopped")
			return
		case <-ticker.C:
			summary, err := p.PollOnce(ctx)
			if err != nil {
				if errors.Is(err, ErrNoData) {
					p.logger.Debug("ThingSpeak returned no data")
					continue
				}
				p.logger.Warn("ThingSpeak poll failed", zap.Error(err))
				continue
			}
			p.logger.Debug("ThingSpeak reading processed",
				zap.String("device_id", p.DeviceID()),
				zap.String("risk", string(summary.RiskTier)),
				zap.Bool("alert_logged", summary.AlertLogged),
			)
		}
	}
}
