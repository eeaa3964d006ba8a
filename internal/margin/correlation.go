package margin

// CorrelationProvider supplies pairwise commodity correlations for the
// portfolio diversification calculation. Backed by a versioned data set so
// risk runs are reproducible; injected rather than hardcoded.
type CorrelationProvider interface {
	Correlation(a, b string) float64
	Version() string
}

// StaticCorrelationProvider serves correlations from a fixed symmetric
// table. Unknown pairs fall back to a conservative default.
type StaticCorrelationProvider struct {
	version      string
	correlations map[string]float64
	fallback     float64
}

// NewStaticCorrelationProvider returns a provider loaded with the built-in
// commodity correlation table.
func NewStaticCorrelationProvider() *StaticCorrelationProvider {
	p := &StaticCorrelationProvider{
		version:      "2024-q3",
		correlations: make(map[string]float64),
		fallback:     0.3,
	}

	p.set("crude_oil", "natural_gas", 0.45)
	p.set("crude_oil", "heating_oil", 0.85)
	p.set("crude_oil", "gasoline", 0.80)
	p.set("natural_gas", "power", 0.60)
	p.set("natural_gas", "heating_oil", 0.40)
	p.set("gold", "silver", 0.75)
	p.set("gold", "crude_oil", 0.20)
	p.set("wheat", "corn", 0.65)
	p.set("wheat", "soybeans", 0.55)
	p.set("corn", "soybeans", 0.70)

	return p
}

func (p *StaticCorrelationProvider) set(a, b string, rho float64) {
	p.correlations[pairKey(a, b)] = rho
}

// Correlation returns the pairwise correlation between two commodities.
// A commodity is perfectly correlated with itself.
func (p *StaticCorrelationProvider) Correlation(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if rho, ok := p.correlations[pairKey(a, b)]; ok {
		return rho
	}
	return p.fallback
}

// Version identifies the correlation data set in use.
func (p *StaticCorrelationProvider) Version() string {
	return p.version
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
