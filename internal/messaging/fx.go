package messaging

import (
	"context"

	"github.com/smallbiznis/classpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("messaging",
	fx.Provide(NewPublisher),
)

// NewPublisher picks the AMQP publisher when AMQP_URL is set.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if !cfg.AMQP.Enabled() {
		log.Info("amqp disabled, outcome events will not be published")
		return NewNopPublisher(log), nil
	}

	pub, err := NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}
