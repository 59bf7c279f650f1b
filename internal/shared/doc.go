// Package shared holds helpers used across packages. The testutil
// subpackage provides a buffered slog handler for asserting on log output
// and fixtures that build raw assessment rows.
//
//	logger, handler := testutil.NewTestLogger(t)
//	normalizer := dataprocessing.NewTableNormalizer(dataprocessing.NormalizerOptions{Logger: logger})
//	testutil.AssertLogContains(t, handler, slog.LevelWarn, "empty result")
package shared
