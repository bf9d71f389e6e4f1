package features

import "fmt"

// Column names produced by the pipeline stages.
const (
	ColTarget      = "Target"
	ColDailyReturn = "Daily_Return"
	ColMACD        = "MACD"
	ColSignalLine  = "Signal_Line"
)

// BaseColumns are the numeric input columns carried by every table, in output order.
var BaseColumns = []string{"Open", "High", "Low", "Close", "Volume"}

func ReturnColumn(horizon int) string { return fmt.Sprintf("Return_Day_%d", horizon) }
func MAColumn(window int) string      { return fmt.Sprintf("MA_%d", window) }
func RSIColumn(window int) string     { return fmt.Sprintf("RSI_%d", window) }
func EMAColumn(span int) string       { return fmt.Sprintf("EMA_%d", span) }

func MiddleBandColumn(window int) string { return fmt.Sprintf("Middle_Band_%d", window) }
func StdDevColumn(window int) string     { return fmt.Sprintf("Standard_Deviation_%d", window) }
func UpperBandColumn(window int) string  { return fmt.Sprintf("Upper_Band_%d", window) }
func LowerBandColumn(window int) string  { return fmt.Sprintf("Lower_Band_%d", window) }
