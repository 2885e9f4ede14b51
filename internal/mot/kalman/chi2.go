package kalman

// Chi2Inv95 holds the 0.95 quantile of the chi-square distribution indexed
// by degrees of freedom (1..9). Index 0 is unused.
var Chi2Inv95 = [10]float64{
	0,
	3.8415,
	5.9915,
	7.8147,
	9.4877,
	11.070,
	12.592,
	14.067,
	15.507,
	16.919,
}

// GatingThreshold is the Mahalanobis gate for a full (x, y, a, h) measurement.
func GatingThreshold() float64 { return Chi2Inv95[MeasurementDim] }
