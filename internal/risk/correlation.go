package risk

import (
	"fmt"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// CorrelationGuard limits same-direction exposure within a cluster of
// correlated symbols. Symbols outside every cluster form their own cluster.
type CorrelationGuard struct {
	clusterOf        map[string]string
	maxSameDirection int
}

// NewCorrelationGuard creates a guard from profile settings.
func NewCorrelationGuard(cfg config.CorrelationConfig) *CorrelationGuard {
	g := &CorrelationGuard{
		clusterOf:        make(map[string]string),
		maxSameDirection: cfg.MaxSameDirection,
	}
	for name, symbols := range cfg.Clusters {
		for _, s := range symbols {
			g.clusterOf[s] = name
		}
	}
	return g
}

// Cluster returns the cluster a symbol belongs to.
func (g *CorrelationGuard) Cluster(symbol string) string {
	if c, ok := g.clusterOf[symbol]; ok {
		return c
	}
	return symbol
}

// Check returns ports.ErrCorrelationLimit when opening symbol in dir would
// exceed the same-direction limit of its cluster.
func (g *CorrelationGuard) Check(open []*domain.Position, symbol string, dir domain.Direction) error {
	if g == nil || g.maxSameDirection <= 0 {
		return nil
	}
	cluster := g.Cluster(symbol)
	count := 0
	for _, p := range open {
		if p.IsOpen() && p.Direction == dir && g.Cluster(p.Symbol) == cluster {
			count++
		}
	}
	if count >= g.maxSameDirection {
		return fmt.Errorf("%w: %d %s positions in cluster %s", ports.ErrCorrelationLimit, count, dir, cluster)
	}
	return nil
}
