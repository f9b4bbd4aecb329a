package pricing

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/shopspring/decimal"

	"pinledger-backend/pkg/constants"
	"pinledger-backend/pkg/models"
	v1 "pinledger-backend/pkg/models/api/v1"
	"pinledger-backend/pkg/repositories/system"
)

var maxAmount = decimal.NewFromInt(constants.MaxSafeInteger)

type service struct {
	rates       exchangeRates
	params      params
	defaultRate decimal.Decimal
	logger      *slog.Logger
}

type exchangeRates interface {
	ExchangeRate(ctx context.Context) (decimal.Decimal, error)
}

type params interface {
	GetParam(ctx context.Context, key string) (string, error)
}

type Pricing interface {
	Quote(ctx context.Context, sizeBytes uint64, durationDays uint32) (v1.Quote, error)
}

// Quote prices sizeBytes stored for durationDays in the smallest token unit,
// rounding up so the escrow is never underfunded by a fraction.
func (s *service) Quote(ctx context.Context, sizeBytes uint64, durationDays uint32) (q v1.Quote, err error) {
	log := s.logger.With(
		slog.String("method", "Quote"),
		slog.Uint64("size", sizeBytes),
		slog.Uint64("days", uint64(durationDays)),
	)

	if sizeBytes == 0 || durationDays == 0 {
		err = models.ErrInvalidAmount
		return
	}

	rate := s.ratePerByteDay(ctx, log)

	exchange, rErr := s.rates.ExchangeRate(ctx)
	if rErr != nil {
		log.Error("failed to get exchange rate", slog.Any("error", rErr))
		err = models.ErrUpstream
		return
	}
	if !exchange.IsPositive() {
		log.Error("exchange rate is not positive", slog.String("rate", exchange.String()))
		err = models.ErrUpstream
		return
	}

	costStable := decimal.NewFromBigInt(new(big.Int).SetUint64(sizeBytes), 0).
		Mul(decimal.NewFromInt(int64(durationDays))).
		Mul(rate)

	amount := costStable.Shift(constants.TokenDecimals).Div(exchange).Ceil()
	if !amount.IsPositive() || amount.GreaterThan(maxAmount) {
		log.Warn("amount out of range", slog.String("amount", amount.String()))
		err = models.ErrInvalidAmount
		return
	}

	q = v1.Quote{
		TotalCost:         uint64(amount.IntPart()),
		TotalCostToken:    amount.Shift(-constants.TokenDecimals).String(),
		CostStable:        costStable.String(),
		RatePerBytePerDay: rate.String(),
		ExchangeRate:      exchange.String(),
		SizeBytes:         sizeBytes,
		DurationDays:      durationDays,
	}

	return
}

func (s *service) ratePerByteDay(ctx context.Context, log *slog.Logger) decimal.Decimal {
	raw, err := s.params.GetParam(ctx, system.RatePerByteDayKey)
	if err != nil {
		log.Error("failed to read rate param, using default", slog.Any("error", err))
		return s.defaultRate
	}
	if raw == "" {
		return s.defaultRate
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() {
		log.Error("invalid rate param, using default", slog.String("value", raw))
		return s.defaultRate
	}

	return rate
}

func NewService(rates exchangeRates, params params, defaultRate decimal.Decimal, logger *slog.Logger) Pricing {
	return &service{
		rates:       rates,
		params:      params,
		defaultRate: defaultRate,
		logger:      logger,
	}
}
