package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy holds the storefront access policy that operators can tune without a redeploy.
type Policy struct {
	DownloadMaxPerPurchase int           `mapstructure:"downloadMaxPerPurchase"`
	DownloadTTL            time.Duration `mapstructure:"downloadTTL"`
	CheckoutPerMinute      int           `mapstructure:"checkoutPerMinute"`
	DownloadPerMinute      int           `mapstructure:"downloadPerMinute"`
	RatingPerMinute        int           `mapstructure:"ratingPerMinute"`
}

func DefaultPolicy() Policy {
	return Policy{
		DownloadMaxPerPurchase: 5,
		DownloadTTL:            7 * 24 * time.Hour,
		CheckoutPerMinute:      10,
		DownloadPerMinute:      30,
		RatingPerMinute:        5,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyFile != "" {
		v.SetConfigFile(cfg.PolicyFile)
	} else {
		v.SetConfigName("storefront")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/folio")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("storefront.downloadMaxPerPurchase", defaults.DownloadMaxPerPurchase)
	v.SetDefault("storefront.downloadTTL", defaults.DownloadTTL)
	v.SetDefault("storefront.checkoutPerMinute", defaults.CheckoutPerMinute)
	v.SetDefault("storefront.downloadPerMinute", defaults.DownloadPerMinute)
	v.SetDefault("storefront.ratingPerMinute", defaults.RatingPerMinute)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var policy Policy
	if err := v.UnmarshalKey("storefront", &policy); err != nil {
		return nil, err
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("storefront", &updated); err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	return h.current.Load().(Policy)
}

func validatePolicy(p Policy) error {
	if p.DownloadMaxPerPurchase <= 0 {
		return errors.New("storefront.downloadMaxPerPurchase must be positive")
	}
	if p.DownloadTTL <= 0 {
		return errors.New("storefront.downloadTTL must be positive")
	}
	if p.CheckoutPerMinute <= 0 || p.DownloadPerMinute <= 0 || p.RatingPerMinute <= 0 {
		return errors.New("storefront rate limits must be positive")
	}
	return nil
}
