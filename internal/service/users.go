// users.go — сопоставление пользователей с аккаунтами ScienceData.
// ORCID → пользователь ScienceData кэшируется в expirable LRU,
// кэш свой у каждого экземпляра сервиса.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
)

var userCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sr_user_cache_total",
	Help: "Обращения к кэшу пользователей ScienceData по результату (hit, miss).",
}, []string{"result"})

// UserService определяет пользователя ScienceData по ORCID.
type UserService struct {
	sd     ScienceData
	cache  *expirable.LRU[string, string]
	logger *slog.Logger
}

// NewUserService создаёт сервис с кэшем размера maxSize и временем жизни ttl.
func NewUserService(sd ScienceData, maxSize int, ttl time.Duration, logger *slog.Logger) *UserService {
	return &UserService{
		sd:     sd,
		cache:  expirable.NewLRU[string, string](maxSize, nil, ttl),
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// ScienceDataUser возвращает пользователя ScienceData для principal.
func (s *UserService) ScienceDataUser(ctx context.Context, p *model.Principal) (string, error) {
	if !p.HasORCID() {
		return "", ErrNoORCID
	}
	if user, ok := s.cache.Get(p.ORCID); ok {
		userCacheTotal.WithLabelValues("hit").Inc()
		return user, nil
	}
	userCacheTotal.WithLabelValues("miss").Inc()

	user, err := s.sd.ResolveUser(ctx, p.ORCID)
	if err != nil {
		return "", mapScienceDataError(err)
	}
	s.cache.Add(p.ORCID, user)
	s.logger.Debug("Пользователь ScienceData определён",
		slog.String("orcid", p.ORCID),
		slog.String("sciencedata_user", user),
	)
	return user, nil
}

// Groups возвращает группы ScienceData пользователя.
func (s *UserService) Groups(ctx context.Context, p *model.Principal) ([]string, error) {
	user, err := s.ScienceDataUser(ctx, p)
	if err != nil {
		return nil, err
	}
	groups, err := s.sd.Groups(ctx, user)
	if err != nil {
		return nil, mapScienceDataError(err)
	}
	return groups, nil
}

// Forget удаляет ORCID из кэша.
func (s *UserService) Forget(orcid string) {
	s.cache.Remove(orcid)
}

// mapScienceDataError переводит ошибки клиента в ошибки сервисного слоя.
// ErrNoORCIDAccount и ErrMultipleORCIDAccounts сохраняются как есть.
func mapScienceDataError(err error) error {
	switch {
	case errors.Is(err, sdclient.ErrNoORCIDAccount), errors.Is(err, sdclient.ErrMultipleORCIDAccounts):
		return err
	case errors.Is(err, sdclient.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err) //nolint:errorlint // намеренный двойной wrap
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrScienceDataUnavailable, err) //nolint:errorlint // намеренный двойной wrap
	}
}
