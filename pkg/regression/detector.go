// Package regression decides whether a metric observation departs from its
// baseline. Three complementary methods run on every check: a z-score test
// against the baseline, an isolation-forest style distributional outlier
// score over the sample window, and a Welch t-test change-point split of the
// recent samples. By default any positive method reports a regression;
// callers can require k-of-n agreement through the config.
package regression

import (
	"fmt"
	"math"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/baseline"
	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/forensic"
)

// Detection methods.
const (
	MethodStatistical = "statistical"
	MethodOutlier     = "distributional_outlier"
	MethodChangePoint = "change_point"
)

// Config tunes the detector.
type Config struct {
	// ThresholdPercent is the minimum percent deviation considered a
	// regression by the statistical and change-point methods.
	ThresholdPercent float64
	// MinMethodAgreement is the k of k-of-n: how many methods must agree
	// before a check reports a regression. 1 means any method suffices.
	MinMethodAgreement int
	// ZScoreLimit is the z beyond which the statistical method fires.
	ZScoreLimit float64
	// OutlierScoreLimit is the isolation score above which the outlier
	// method fires.
	OutlierScoreLimit float64
	// ChangeWindow is the per-side sample count for the change-point split.
	ChangeWindow int
	// MinAbsoluteDelta guards zero-variance baselines: when stddev is 0, a
	// deviation below this absolute delta is not significant.
	MinAbsoluteDelta float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		ThresholdPercent:   10.0,
		MinMethodAgreement: 1,
		ZScoreLimit:        2.0,
		OutlierScoreLimit:  0.65,
		ChangeWindow:       10,
		MinAbsoluteDelta:   1e-9,
	}
}

// Result is the verdict on one observation.
type Result struct {
	MetricName       string            `json:"metric_name"`
	IsRegression     bool              `json:"is_regression"`
	Severity         forensic.Severity `json:"severity"`
	Confidence       float64           `json:"confidence"`
	DetectionMethod  string            `json:"detection_method"`
	MethodsAgreed    []string          `json:"methods_agreed"`
	BaselineValue    float64           `json:"baseline_value"`
	CurrentValue     float64           `json:"current_value"`
	DeviationPercent float64           `json:"deviation_percent"`
	Evidence         forensic.Value    `json:"evidence"`
}

// Detector evaluates observations against the baseline store.
type Detector struct {
	store *baseline.Store
	cfg   Config
}

// NewDetector creates a detector over the given store.
func NewDetector(store *baseline.Store, cfg Config) *Detector {
	if cfg.ThresholdPercent <= 0 {
		cfg.ThresholdPercent = 10.0
	}
	if cfg.MinMethodAgreement <= 0 {
		cfg.MinMethodAgreement = 1
	}
	if cfg.ZScoreLimit <= 0 {
		cfg.ZScoreLimit = 2.0
	}
	if cfg.OutlierScoreLimit <= 0 {
		cfg.OutlierScoreLimit = 0.65
	}
	if cfg.ChangeWindow <= 0 {
		cfg.ChangeWindow = 10
	}
	return &Detector{store: store, cfg: cfg}
}

// Detect classifies one observation. Pure with respect to the store: the
// observation is not recorded, so evaluating the same value twice yields the
// same verdict.
func (d *Detector) Detect(metricName string, value float64) Result {
	res := Result{
		MetricName:   metricName,
		CurrentValue: value,
		Severity:     forensic.SeverityLow,
		Evidence:     forensic.Null(),
	}

	base, ok := d.store.Baseline(metricName)
	if !ok {
		// No baseline yet: nothing to regress against.
		res.DetectionMethod = "none"
		return res
	}
	res.BaselineValue = base.Mean
	res.DeviationPercent = percentDeviation(base.Mean, value)

	class := Classify(metricName)
	badSide := class.IsBadDirection(base.Mean, value)

	evidence := map[string]forensic.Value{
		"baseline_mean":   forensic.Float(base.Mean),
		"baseline_stddev": forensic.Float(base.StdDev),
		"sample_count":    forensic.Int(int64(base.SampleCount)),
		"semantic_class":  forensic.String(string(class)),
		"bad_direction":   forensic.Bool(badSide),
	}

	var agreed []string

	statHit, z := d.statistical(base, value, badSide)
	evidence["z_score"] = forensic.Float(z)
	if statHit {
		agreed = append(agreed, MethodStatistical)
	}

	window := d.store.Recent(metricName, d.store.SampleCount(metricName))
	outHit, score := d.outlier(window, value)
	evidence["outlier_score"] = forensic.Float(score)
	if outHit && badSide {
		agreed = append(agreed, MethodOutlier)
	}

	cpHit, tStat, df := d.changePoint(metricName, value)
	evidence["welch_t"] = forensic.Float(tStat)
	evidence["welch_df"] = forensic.Int(int64(df))
	if cpHit && badSide {
		agreed = append(agreed, MethodChangePoint)
	}

	res.MethodsAgreed = agreed
	res.Evidence = forensic.Map(evidence)

	if len(agreed) >= d.cfg.MinMethodAgreement && len(agreed) > 0 {
		res.IsRegression = true
		res.DetectionMethod = agreed[0]
		res.Severity = d.severity(metricName, base, value, z)
		res.Confidence = confidenceFor(len(agreed), math.Abs(z))
	}
	return res
}

// statistical fires on (z beyond limit on the bad side) OR (percent deviation
// beyond the threshold on the bad side).
func (d *Detector) statistical(base *baseline.Baseline, value float64, badSide bool) (bool, float64) {
	var z float64
	if base.StdDev > 0 {
		z = (value - base.Mean) / base.StdDev
	} else {
		// No variation: any deviation is significant only past the minimum
		// absolute delta.
		if math.Abs(value-base.Mean) <= d.cfg.MinAbsoluteDelta {
			return false, 0
		}
		z = math.Inf(sign(value - base.Mean))
	}
	if !badSide {
		return false, z
	}
	if math.Abs(z) > d.cfg.ZScoreLimit {
		return true, z
	}
	return math.Abs(percentDeviation(base.Mean, value)) > d.cfg.ThresholdPercent, z
}

func (d *Detector) changePoint(metricName string, value float64) (bool, float64, int) {
	need := d.cfg.ChangeWindow * 2
	recent := d.store.Recent(metricName, need)
	if len(recent) < need {
		return false, 0, 0
	}
	before := recent[:d.cfg.ChangeWindow]
	after := make([]float64, d.cfg.ChangeWindow)
	copy(after, recent[d.cfg.ChangeWindow:])
	// The observation under test replaces the oldest of the trailing window
	// so the split reflects the world including it.
	after = append(after[1:], value)

	t, df := welchT(before, after)
	if df <= 0 {
		return false, t, df
	}
	significant := math.Abs(t) > baseline.TCritical95(df)
	m1 := mean(before)
	change := math.Abs(percentDeviation(m1, mean(after)))
	return significant && change > d.cfg.ThresholdPercent, t, df
}

func (d *Detector) severity(metricName string, base *baseline.Baseline, value float64, z float64) forensic.Severity {
	absZ := math.Abs(z)
	breachP99 := breaches(base, value, base.P99)
	breachP95 := breaches(base, value, base.P95)

	if Classify(metricName) == ClassErrorRate && breachP99 {
		return forensic.SeverityCritical
	}
	switch {
	case breachP99 || absZ > 3:
		return forensic.SeverityHigh
	case breachP95 || absZ > 2:
		return forensic.SeverityMedium
	}
	return forensic.SeverityLow
}

// breaches reports whether value lies beyond the given percentile bound in
// the direction away from the mean.
func breaches(base *baseline.Baseline, value, bound float64) bool {
	if bound >= base.Mean {
		return value > bound
	}
	return value < bound
}

func confidenceFor(methods int, absZ float64) float64 {
	conf := 0.5 + 0.15*float64(methods)
	if absZ > 3 {
		conf += 0.1
	}
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

func percentDeviation(baseVal, value float64) float64 {
	if baseVal == 0 {
		if value == 0 {
			return 0
		}
		return math.Inf(sign(value))
	}
	return (value - baseVal) / math.Abs(baseVal) * 100
}

func sign(f float64) int {
	if f < 0 {
		return -1
	}
	return 1
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func variance(vs []float64, m float64) float64 {
	if len(vs) < 2 {
		return 0
	}
	var sq float64
	for _, v := range vs {
		sq += (v - m) * (v - m)
	}
	return sq / float64(len(vs)-1)
}

// welchT computes Welch's t statistic and Satterthwaite degrees of freedom.
func welchT(a, b []float64) (float64, int) {
	ma, mb := mean(a), mean(b)
	va, vb := variance(a, ma), variance(b, mb)
	na, nb := float64(len(a)), float64(len(b))

	se := va/na + vb/nb
	if se == 0 {
		if ma == mb {
			return 0, 0
		}
		return math.Inf(sign(ma - mb)), len(a) + len(b) - 2
	}
	t := (ma - mb) / math.Sqrt(se)

	num := se * se
	den := (va/na)*(va/na)/(na-1) + (vb/nb)*(vb/nb)/(nb-1)
	if den == 0 {
		return t, len(a) + len(b) - 2
	}
	return t, int(num / den)
}

func (c Config) String() string {
	return fmt.Sprintf("threshold=%.1f%% agreement=%d z=%.1f", c.ThresholdPercent, c.MinMethodAgreement, c.ZScoreLimit)
}
