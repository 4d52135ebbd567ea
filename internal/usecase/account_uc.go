package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subscription-billing/internal/domain/model"
	"subscription-billing/internal/domain/ports/repository"
)

type AccountUseCase interface {
	Create(ctx context.Context, name, currency string) (*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
}

type accountUC struct {
	accounts repository.AccountRepository
	log      *zerolog.Logger
}

func NewAccountUseCase(accounts repository.AccountRepository, logger *zerolog.Logger) *accountUC {
	l := logger.With().Str("component", "AccountUC").Logger()
	return &accountUC{accounts: accounts, log: &l}
}

func (u *accountUC) Create(ctx context.Context, name, currency string) (*model.Account, error) {
	a, err := model.NewAccount(uuid.NewString(), name, currency)
	if err != nil {
		return nil, err
	}
	if err := u.accounts.Save(ctx, nil, a); err != nil {
		return nil, err
	}
	u.log.Info().Str("account_id", a.ID).Msg("account created")
	return a, nil
}

func (u *accountUC) Get(ctx context.Context, id string) (*model.Account, error) {
	return u.accounts.FindByID(ctx, nil, id)
}
