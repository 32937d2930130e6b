package zoho

import (
	"github.com/smallbiznis/payrelay/internal/zoho/service"
	"github.com/smallbiznis/payrelay/internal/zoho/token"
	"go.uber.org/fx"
)

var Module = fx.Module("zoho.books",
	fx.Provide(token.NewCache),
	fx.Provide(service.NewService),
)
