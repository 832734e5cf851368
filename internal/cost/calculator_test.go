package cost

import (
	"testing"

	"github.com/aman-churiwal/llm-gateway/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func pricing(in, out string) models.ModelConfig {
	return models.ModelConfig{
		IsEnabled:       true,
		InputTokenCost:  decimal.RequireFromString(in),
		OutputTokenCost: decimal.RequireFromString(out),
	}
}

func TestCalculate_ReferenceCall(t *testing.T) {
	b := Calculate(pricing("0.01", "0.03"), 1000, 500, Waiver{})

	assert.True(t, b.InputCost.Equal(decimal.RequireFromString("0.01")), b.InputCost.String())
	assert.True(t, b.OutputCost.Equal(decimal.RequireFromString("0.015")), b.OutputCost.String())
	assert.True(t, b.TotalCost.Equal(decimal.RequireFromString("0.025")), b.TotalCost.String())
}

func TestCalculate_Linear(t *testing.T) {
	cfg := pricing("0.0015", "0.002")

	one := Calculate(cfg, 1000, 0, Waiver{})
	two := Calculate(cfg, 2000, 0, Waiver{})

	assert.True(t, two.InputCost.Equal(one.InputCost.Mul(decimal.NewFromInt(2))))
	assert.True(t, one.OutputCost.IsZero())
}

func TestCalculate_RoundsToSixPlaces(t *testing.T) {
	b := Calculate(pricing("0.0000015", "0"), 1, 0, Waiver{})
	assert.Equal(t, "0.000000", b.InputCost.StringFixed(Precision))

	b = Calculate(pricing("0.001", "0"), 7, 0, Waiver{})
	assert.Equal(t, "0.000007", b.InputCost.StringFixed(Precision))

	b = Calculate(pricing("0.0333333", "0"), 1, 0, Waiver{})
	assert.Equal(t, "0.000033", b.InputCost.StringFixed(Precision))
}

func TestCalculate_FreeShortCircuits(t *testing.T) {
	cfg := pricing("0.01", "0.03")
	cfg.IsFree = true

	assert.True(t, Calculate(cfg, 5000, 5000, Waiver{}).TotalCost.IsZero())
}

func TestCalculate_Waiver(t *testing.T) {
	cfg := pricing("0.01", "0.03")

	assert.True(t, Calculate(cfg, 1000, 1000, Waiver{TierFree: true, Approved: true}).TotalCost.IsZero())
	assert.False(t, Calculate(cfg, 1000, 1000, Waiver{TierFree: true}).TotalCost.IsZero())
	assert.False(t, Calculate(cfg, 1000, 1000, Waiver{Approved: true}).TotalCost.IsZero())
}

func TestProject(t *testing.T) {
	p := Project(pricing("0.01", "0.03"), 100, 1000, Waiver{})
	assert.True(t, p.Equal(decimal.RequireFromString("0.031")), p.String())
}
