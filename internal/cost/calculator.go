// Package cost prices completed calls from per-1K token costs.
package cost

import (
	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places every cost is rounded to.
const Precision = 6

var perThousand = decimal.NewFromInt(1000)

// Breakdown is the priced usage of one call.
type Breakdown struct {
	InputCost  decimal.Decimal `json:"input_cost"`
	OutputCost decimal.Decimal `json:"output_cost"`
	TotalCost  decimal.Decimal `json:"total_cost"`
}

// Waiver carries the tenant-level facts that can zero out a charge.
type Waiver struct {
	TierFree bool
	Approved bool
}

// Applies reports whether the tenant is on a free tier and was approved for free access.
func (w Waiver) Applies() bool {
	return w.TierFree && w.Approved
}

// Zero is the breakdown of a call that is not charged.
func Zero() Breakdown {
	return Breakdown{
		InputCost:  decimal.Zero,
		OutputCost: decimal.Zero,
		TotalCost:  decimal.Zero,
	}
}

// Calculate prices a call. Free models and waived tenants cost nothing.
func Calculate(cfg models.ModelConfig, inputTokens, outputTokens int64, waiver Waiver) Breakdown {
	if cfg.IsFree || waiver.Applies() {
		return Zero()
	}

	in := tokenCost(inputTokens, cfg.InputTokenCost)
	out := tokenCost(outputTokens, cfg.OutputTokenCost)

	return Breakdown{
		InputCost:  in,
		OutputCost: out,
		TotalCost:  in.Add(out),
	}
}

// Project returns the cost used to size a balance hold before the real counts are known.
func Project(cfg models.ModelConfig, estimatedInput, maxOutput int64, waiver Waiver) decimal.Decimal {
	return Calculate(cfg, estimatedInput, maxOutput, waiver).TotalCost
}

func tokenCost(tokens int64, per1K decimal.Decimal) decimal.Decimal {
	if tokens <= 0 || per1K.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(tokens).Mul(per1K).Div(perThousand).Round(Precision)
}
