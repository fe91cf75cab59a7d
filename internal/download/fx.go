package download

import (
	"github.com/smallbiznis/folio/internal/config"
	"github.com/smallbiznis/folio/internal/download/service"
	"github.com/spf13/afero"
	"go.uber.org/fx"
)

var Module = fx.Module("download.service",
	fx.Provide(func(cfg config.Config) afero.Fs {
		return service.NewAssetFs(cfg.DownloadAssetDir)
	}),
	fx.Provide(service.New),
)
