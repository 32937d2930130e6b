package authnet

import (
	"github.com/smallbiznis/payrelay/internal/authnet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("authnet",
	fx.Provide(service.NewClient),
)
