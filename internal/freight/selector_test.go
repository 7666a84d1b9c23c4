package freight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

func TestSelectBest(t *testing.T) {
	tests := []struct {
		name string
		opts []domain.ProcessedOption
		want string
	}{
		{
			name: "seller paid beats buyer paid",
			opts: []domain.ProcessedOption{
				{Method: "buyer", Payer: domain.PayerBuyer, BuyerCost: 50, CustomerPrice: 50},
				{Method: "seller", Payer: domain.PayerSeller, SellerCost: 12},
			},
			want: "seller",
		},
		{
			name: "standard service preferred over higher cost",
			opts: []domain.ProcessedOption{
				{Method: "express", Payer: domain.PayerSeller, SellerCost: 40},
				{Method: "normal", Payer: domain.PayerSeller, SellerCost: 20, IsStandardService: true},
			},
			want: "normal",
		},
		{
			name: "highest seller cost without standard",
			opts: []domain.ProcessedOption{
				{Method: "a", Payer: domain.PayerSeller, SellerCost: 20},
				{Method: "b", Payer: domain.PayerSeller, SellerCost: 35},
				{Method: "c", Payer: domain.PayerSeller, SellerCost: 35},
			},
			want: "b",
		},
		{
			name: "highest buyer cost when nobody else pays",
			opts: []domain.ProcessedOption{
				{Method: "cheap", Payer: domain.PayerBuyer, BuyerCost: 10, CustomerPrice: 10},
				{Method: "dear", Payer: domain.PayerBuyer, BuyerCost: 30, CustomerPrice: 30},
			},
			want: "dear",
		},
		{
			name: "invalid options never win",
			opts: []domain.ProcessedOption{
				{Method: "negative", Payer: domain.PayerSeller, SellerCost: -1},
				{Method: "nan", Payer: domain.PayerSeller, SellerCost: math.NaN()},
				{Method: "inf", Payer: domain.PayerSeller, SellerCost: math.Inf(1)},
				{Method: "ok", Payer: domain.PayerBuyer, BuyerCost: 5, CustomerPrice: 5},
			},
			want: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectBest(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Method)
		})
	}
}

func TestSelectBest_NoValidOption(t *testing.T) {
	_, err := SelectBest(nil)
	assert.ErrorIs(t, err, domain.ErrNoValidOption)

	_, err = SelectBest([]domain.ProcessedOption{{Payer: domain.PayerBuyer, CustomerPrice: -3}})
	assert.ErrorIs(t, err, domain.ErrNoValidOption)
}
