package rewards

import "fmt"

const (
	// DefaultForBlock is the number of dataset entries processed per tick.
	DefaultForBlock              = 500
	DefaultProviderPointsPercent = 60
	DefaultMaxDatasetLength      = 100_000
)

// Params configures the reward cycle.
type Params struct {
	ForBlock int
	// ProviderPointsPercent is the share of a provider payout split by
	// resource points. The remainder is split equally per provider.
	ProviderPointsPercent uint64
	MaxDatasetLength      int
}

// DefaultParams returns the stock reward parameters.
func DefaultParams() Params {
	return Params{
		ForBlock:              DefaultForBlock,
		ProviderPointsPercent: DefaultProviderPointsPercent,
		MaxDatasetLength:      DefaultMaxDatasetLength,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.ForBlock <= 0 {
		return fmt.Errorf("rewards: for-block budget must be positive")
	}
	if p.ProviderPointsPercent > 100 {
		return fmt.Errorf("rewards: provider points percent must not exceed 100")
	}
	if p.MaxDatasetLength <= 0 {
		return fmt.Errorf("rewards: max dataset length must be positive")
	}
	return nil
}
