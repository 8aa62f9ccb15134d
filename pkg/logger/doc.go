// Package logger provides structured logging for the domain scraper.
//
// It wraps zerolog behind a small Logger interface so components can take a
// logger as a dependency and tests can swap in NewNopLogger or NewTestLogger.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "engine")
//	log.InfoWithFields("Page parsed", map[string]interface{}{
//	    "page":    12,
//	    "records": 50,
//	})
//
// Every logger created with New carries a run_id field so the lines of one
// crawl can be told apart in a shared log file.
package logger
