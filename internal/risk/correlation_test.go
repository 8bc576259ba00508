package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

func TestCorrelationGuard_Check(t *testing.T) {
	guard := NewCorrelationGuard(config.CorrelationConfig{
		MaxSameDirection: 2,
		Clusters:         map[string][]string{"majors": {"BTCUSDT", "ETHUSDT", "BNBUSDT"}},
	})
	open := []*domain.Position{
		{Symbol: "BTCUSDT", Direction: domain.Long, State: domain.StateActive},
		{Symbol: "ETHUSDT", Direction: domain.Long, State: domain.StateTrailing},
		{Symbol: "SOLUSDT", Direction: domain.Long, State: domain.StateActive},
		{Symbol: "ETHUSDT", Direction: domain.Short, State: domain.StateClosed},
	}

	tests := []struct {
		name    string
		symbol  string
		dir     domain.Direction
		wantErr bool
	}{
		{name: "Third long in cluster refused", symbol: "BNBUSDT", dir: domain.Long, wantErr: true},
		{name: "Opposite direction allowed", symbol: "BNBUSDT", dir: domain.Short},
		{name: "Unclustered symbol is its own cluster", symbol: "SOLUSDT", dir: domain.Long},
		{name: "Closed positions ignored", symbol: "BTCUSDT", dir: domain.Short},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Check(open, tt.symbol, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrCorrelationLimit)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCorrelationGuard_Disabled(t *testing.T) {
	var guard *CorrelationGuard
	assert.NoError(t, guard.Check(nil, "BTCUSDT", domain.Long))
	assert.NoError(t, NewCorrelationGuard(config.CorrelationConfig{}).Check([]*domain.Position{{Symbol: "BTCUSDT", Direction: domain.Long}}, "BTCUSDT", domain.Long))
}
