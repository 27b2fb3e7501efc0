package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// PowerSpectrum returns |X_k|²/n for k = 0..n/2 of the mean-removed data.
func PowerSpectrum(data []float64) []float64 {
	n := len(data)
	if n < 2 {
		return nil
	}
	mean := stat.Mean(data, nil)
	centered := make([]float64, n)
	for i, v := range data {
		centered[i] = v - mean
	}

	coeffs := fourier.NewFFT(n).Coefficients(nil, centered)
	ps := make([]float64, len(coeffs))
	for i, c := range coeffs {
		ps[i] = (real(c)*real(c) + imag(c)*imag(c)) / float64(n)
	}
	return ps
}

// DominantFrequency returns the frequency in Hz of the strongest non-DC
// bin for samples dt seconds apart, or 0 for a constant series.
func DominantFrequency(data []float64, dt float64) float64 {
	ps := PowerSpectrum(data)
	best, bestPower := 0, 0.0
	for k := 1; k < len(ps); k++ {
		if ps[k] > bestPower {
			best, bestPower = k, ps[k]
		}
	}
	if best == 0 || bestPower < 1e-24 {
		return 0
	}
	return float64(best) / (float64(len(data)) * dt)
}

// EstimateLag returns the shift in [0, maxLag] at which measured best
// correlates with reference, and that correlation. A positive lag means
// the measured series trails the reference.
func EstimateLag(reference, measured []float64, maxLag int) (lag int, corr float64) {
	n := min(len(reference), len(measured))
	corr = math.Inf(-1)
	for k := 0; k <= maxLag && n-k >= 2; k++ {
		c := stat.Correlation(reference[:n-k], measured[k:n], nil)
		if math.IsNaN(c) {
			continue
		}
		if c > corr {
			lag, corr = k, c
		}
	}
	if math.IsInf(corr, -1) {
		return 0, 0
	}
	return lag, corr
}
