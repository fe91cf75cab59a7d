package providers

import (
	"github.com/smallbiznis/folio/internal/providers/email"
	"github.com/smallbiznis/folio/internal/providers/events"
	"github.com/smallbiznis/folio/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	events.Module,
	pdf.Module,
)
