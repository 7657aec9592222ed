package baseline

// TCritical95 returns the two-tailed 95% critical value of Student's t
// distribution for the given degrees of freedom. Values above the table fall
// back to the normal approximation.
func TCritical95(df int) float64 {
	if df <= 0 {
		return 12.706
	}
	if df <= len(t95Table) {
		return t95Table[df-1]
	}
	switch {
	case df <= 40:
		return 2.021
	case df <= 60:
		return 2.000
	case df <= 120:
		return 1.980
	}
	return 1.960
}

// Two-tailed alpha=0.05 critical values for df 1..30.
var t95Table = []float64{
	12.706, 4.303, 3.182, 2.776, 2.571,
	2.447, 2.365, 2.306, 2.262, 2.228,
	2.201, 2.179, 2.160, 2.145, 2.131,
	2.120, 2.110, 2.101, 2.093, 2.086,
	2.080, 2.074, 2.069, 2.064, 2.060,
	2.056, 2.052, 2.048, 2.045, 2.042,
}
