package features

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Config parameterises every stage of the pipeline.
type Config struct {
	MAWindows       []int     `yaml:"ma_windows" json:"ma_windows" default:"[5,20]" validate:"unique,dive,gt=0"`
	Horizons        int       `yaml:"horizons" json:"horizons" default:"10" validate:"gte=1"`
	RSIWindow       int       `yaml:"rsi_window" json:"rsi_window" default:"14" validate:"gt=0"`
	RSISmoothing    Smoothing `yaml:"rsi_smoothing" json:"rsi_smoothing" default:"blended" validate:"oneof=blended wilder"`
	MACDShortSpan   int       `yaml:"macd_short_span" json:"macd_short_span" default:"12" validate:"gt=0,ltfield=MACDLongSpan"`
	MACDLongSpan    int       `yaml:"macd_long_span" json:"macd_long_span" default:"26" validate:"gt=0"`
	MACDSignalSpan  int       `yaml:"macd_signal_span" json:"macd_signal_span" default:"9" validate:"gt=0"`
	BollingerWindow int       `yaml:"bollinger_window" json:"bollinger_window" default:"20" validate:"gte=2"`
	BollingerK      float64   `yaml:"bollinger_k" json:"bollinger_k" default:"2" validate:"gt=0"`
}

// DefaultConfig returns MA 5/20, RSI 14 blended, MACD 12/26/9,
// Bollinger 20 x 2 and ten forward horizons.
func DefaultConfig() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("features: default config: %v", err))
	}
	return cfg
}

// Validate rejects out-of-range parameters. Zero values are not replaced by
// defaults here; a zero window is an error.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Fingerprint identifies the parameter set, for cache keys and run metadata.
func (c Config) Fingerprint() string {
	ws := make([]string, len(c.MAWindows))
	for i, w := range c.MAWindows {
		ws[i] = strconv.Itoa(w)
	}
	return fmt.Sprintf("ma%s_h%d_rsi%d%s_macd%d-%d-%d_bb%d-%s",
		strings.Join(ws, "-"), c.Horizons, c.RSIWindow, c.RSISmoothing,
		c.MACDShortSpan, c.MACDLongSpan, c.MACDSignalSpan,
		c.BollingerWindow, strconv.FormatFloat(c.BollingerK, 'g', -1, 64))
}
