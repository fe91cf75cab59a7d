package catalog

import (
	"github.com/smallbiznis/folio/internal/catalog/domain"
	"github.com/smallbiznis/folio/internal/catalog/repository"
	"github.com/smallbiznis/folio/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(
		func(s *service.Service) domain.Service { return s },
		func(s *service.Service) domain.Lookup { return s },
	),
)
