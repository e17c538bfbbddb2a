package notification

import (
	"context"

	"go.uber.org/fx"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
)

// NewNotifier selects the notifier named by notification.type.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config) ports.Notifier {
	if cfg.Notification.Type != "kafka" {
		return NewLogNotifier()
	}
	n := NewKafkaNotifier(cfg.Notification.Brokers, cfg.Notification.Topic)
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return n.Close()
	}})
	return n
}

var Module = fx.Options(
	fx.Provide(NewNotifier),
)
