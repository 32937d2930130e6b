package reconcile

import (
	"github.com/smallbiznis/payrelay/internal/reconcile/domain"
	"github.com/smallbiznis/payrelay/internal/reconcile/repository"
	"github.com/smallbiznis/payrelay/internal/reconcile/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("reconcile",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.EventRecord{})
}
