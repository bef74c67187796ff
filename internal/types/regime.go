package types

// RegimeName labels the prevailing market condition.
type RegimeName string

const (
	RegimeTrending RegimeName = "trending"
	RegimeRanging  RegimeName = "ranging"
	RegimeVolatile RegimeName = "volatile"
	RegimeQuiet    RegimeName = "quiet"
)

// Regime describes the market condition a signal or trade happened in.
type Regime struct {
	Name       RegimeName `yaml:"name" json:"name"`
	Volatility string     `yaml:"volatility" json:"volatility"`
	Session    string     `yaml:"session" json:"session"`
}
