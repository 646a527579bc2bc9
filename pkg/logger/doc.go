// Package logger provides the structured console logger used by the insights SDK.
//
// ProductionLogger implements core.Logger. Every method takes a message and a
// map of structured fields:
//
//	log := logger.New("checkout-web")
//	log.Info("SDK loaded", map[string]interface{}{
//	    "plugins": 4,
//	    "legacy":  false,
//	})
//
// # Output Formats
//
// Text is used for local development:
//
//	2026-01-02T15:04:05Z [INFO] [sdk:checkout-web] SDK loaded legacy=false plugins=4
//
// JSON is selected automatically when KUBERNETES_SERVICE_HOST is set, or
// explicitly with INSIGHTS_LOG_FORMAT=json.
//
// # Configuration
//
//   - INSIGHTS_LOG_LEVEL: DEBUG, INFO, WARN or ERROR (default INFO)
//   - INSIGHTS_DEBUG: "true" enables debug output regardless of level
//   - INSIGHTS_LOG_FORMAT: text or json
//
// Error lines are rate limited to one per second so a failing exporter cannot
// flood the console during teardown.
package logger
