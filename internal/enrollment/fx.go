package enrollment

import (
	"github.com/smallbiznis/classpay/internal/enrollment/repository"
	"github.com/smallbiznis/classpay/internal/enrollment/service"
	paymentdomain "github.com/smallbiznis/classpay/internal/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("enrollment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(
		fx.Annotate(service.NewSideEffectHandler, fx.As(new(paymentdomain.SuccessHandler))),
		fx.Annotate(service.NewDirectory, fx.As(new(paymentdomain.Directory))),
	),
)
