// Package adapter bridges external collaborators (market data providers)
// onto the engine's internal collaborator interfaces where the pack's
// provider surface doesn't already match one to one.
package adapter

import (
	"context"
	"fmt"
	"math"

	"nof0-api/pkg/contracts"
	"nof0-api/pkg/market"
)

// ContractSource adapts a market.Provider's asset listing into the Contract
// Spec Cache's (C3) Source: tick/step size from quoted price precision,
// leverage bounds from the provider's raw per-asset metadata.
type ContractSource struct {
	provider market.Provider
}

// NewContractSource builds a contracts.Source backed by a market provider.
func NewContractSource(provider market.Provider) *ContractSource {
	return &ContractSource{provider: provider}
}

// GetContracts implements contracts.Source.
func (s *ContractSource) GetContracts(ctx context.Context) ([]contracts.Spec, error) {
	if s == nil || s.provider == nil {
		return nil, fmt.Errorf("adapter: contract source has no market provider")
	}
	assets, err := s.provider.ListAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapter: list assets: %w", err)
	}
	specs := make([]contracts.Spec, 0, len(assets))
	for _, asset := range assets {
		if !asset.IsActive {
			continue
		}
		spec := contracts.Spec{
			Symbol:      asset.Symbol,
			TickSize:    stepFromPrecision(asset.Precision),
			StepSize:    stepFromPrecision(asset.Precision),
			MinLeverage: 1,
			MaxLeverage: maxLeverageFromMetadata(asset.RawMetadata),
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func stepFromPrecision(precision int) float64 {
	if precision <= 0 {
		return 1
	}
	return 1 / math.Pow(10, float64(precision))
}

func maxLeverageFromMetadata(meta map[string]any) int {
	const defaultMaxLeverage = 20
	if meta == nil {
		return defaultMaxLeverage
	}
	raw, ok := meta["maxLeverage"]
	if !ok {
		return defaultMaxLeverage
	}
	switch v := raw.(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return defaultMaxLeverage
}
