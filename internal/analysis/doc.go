// Package analysis inspects recorded tracking series.
//
//   - [PowerSpectrum] and [DominantFrequency]: spectral content of a series
//   - [EstimateLag]: the delay, in ticks, of the measured height behind its
//     reference
//   - [TrackingPortrait]: measured against reference height; perfect
//     tracking lies on the diagonal
//
// # Example
//
//	series, _ := store.LoadSeries(runID)
//	lag, corr := analysis.EstimateLag(ref, measured, 200)
package analysis
