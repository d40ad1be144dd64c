package payment

import (
	"github.com/smallbiznis/classpay/internal/config"
	"github.com/smallbiznis/classpay/internal/payment/adapters"
	"github.com/smallbiznis/classpay/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/payment/repository"
	paymentservice "github.com/smallbiznis/classpay/internal/payment/service"
	"github.com/smallbiznis/classpay/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(newRegistry),
	fx.Provide(
		fx.Annotate(stripe.NewClient, fx.As(new(paymentdomain.Gateway))),
	),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)

func newRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	registry := adapters.NewRegistry(
		adapters.Provider{Factory: stripe.NewFactory(), WebhookSecret: cfg.Stripe.WebhookSecret},
	)
	if len(registry.Providers()) == 0 {
		log.Warn("no webhook signing secret configured, gateway deliveries will be rejected")
	}
	return registry
}
