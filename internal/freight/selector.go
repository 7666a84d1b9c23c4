package freight

import "github.com/alanyoungcy/freightquote/internal/domain"

// IsValidOption reports whether every cost of the option is a finite,
// non-negative number.
func IsValidOption(o domain.ProcessedOption) bool {
	for _, v := range []float64{o.SellerCost, o.BuyerCost, o.CustomerPrice} {
		if !isFinite(v) || v < 0 {
			return false
		}
	}
	return true
}

// SelectBest picks the single best option out of the options returned by one
// quote call. Seller-paid options win over buyer-paid ones; within a group
// the standard service is preferred, otherwise the highest cost. It returns
// domain.ErrNoValidOption when nothing survives the validity filter.
func SelectBest(opts []domain.ProcessedOption) (domain.ProcessedOption, error) {
	var seller, buyer []domain.ProcessedOption
	for _, o := range opts {
		if !IsValidOption(o) {
			continue
		}
		if o.Payer == domain.PayerSeller {
			seller = append(seller, o)
		} else {
			buyer = append(buyer, o)
		}
	}

	if len(seller) > 0 {
		return pick(seller, func(o domain.ProcessedOption) float64 { return o.SellerCost }), nil
	}
	if len(buyer) > 0 {
		return pick(buyer, func(o domain.ProcessedOption) float64 { return o.BuyerCost }), nil
	}
	return domain.ProcessedOption{}, domain.ErrNoValidOption
}

// pick returns the first standard-service option, else the one with the
// highest cost (first wins on ties). cands must not be empty.
func pick(cands []domain.ProcessedOption, cost func(domain.ProcessedOption) float64) domain.ProcessedOption {
	for _, c := range cands {
		if c.IsStandardService {
			return c
		}
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if cost(c) > cost(best) {
			best = c
		}
	}
	return best
}
