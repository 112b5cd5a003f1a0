package dispatch

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"leadflow/internal/broker"
	"leadflow/internal/config"
	"leadflow/internal/logger"
	"leadflow/pkg/circuitbreaker"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/models"
)

// Executor hands a dispatch command to the external contact executor.
// The pipeline only learns the outcome later, through a completion
// event.
type Executor interface {
	Dispatch(ctx context.Context, cmd models.DispatchCommand) error
}

// KafkaExecutor publishes commands to the executor's topic behind a
// circuit breaker, so a broker outage sheds load instead of tying up
// every worker.
type KafkaExecutor struct {
	producer broker.Producer
	topic    string
	breaker  *circuitbreaker.Wrapper
	logger   logger.Logger
}

func NewKafkaExecutor(producer broker.Producer, topic string, cbCfg config.CircuitBreakerConfig, log logger.Logger) *KafkaExecutor {
	e := &KafkaExecutor{
		producer: producer,
		topic:    topic,
		logger:   log,
	}

	if cbCfg.Enabled {
		cfg := circuitbreaker.DefaultConfig("dispatch-executor")
		if cbCfg.MaxRequests > 0 {
			cfg.MaxRequests = cbCfg.MaxRequests
		}
		if cbCfg.Interval > 0 {
			cfg.Interval = cbCfg.Interval
		}
		if cbCfg.Timeout > 0 {
			cfg.Timeout = cbCfg.Timeout
		}
		if cbCfg.FailureRatio > 0 && cbCfg.MinRequests > 0 {
			cfg.ReadyToTrip = func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= cbCfg.MinRequests && ratio >= cbCfg.FailureRatio
			}
		}
		e.breaker = circuitbreaker.NewWrapper(cfg)
	}

	return e
}

func (e *KafkaExecutor) Dispatch(ctx context.Context, cmd models.DispatchCommand) error {
	envelope, err := models.NewDispatchCommandEnvelope(cmd, logging.GetTraceID(ctx))
	if err != nil {
		return err
	}

	start := time.Now()
	if e.breaker != nil {
		_, err = e.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return nil, e.producer.Publish(ctx, e.topic, envelope)
		})
		e.breaker.RecordRequest(err == nil)
	} else {
		err = e.producer.Publish(ctx, e.topic, envelope)
	}

	status := "emitted"
	if err != nil {
		status = "error"
	}
	metrics.DispatchTotal.WithLabelValues(status).Inc()
	metrics.DispatchDuration.WithLabelValues(status).
		Observe(float64(time.Since(start).Milliseconds()))

	return err
}
