// Package main loads the SDK into a page script evaluated by goja.
//
// The page script installs the standard loader snippet and makes calls before
// the SDK exists. insights-page evaluates it, loads the SDK the way the CDN
// bundle would, replays the queued calls, optionally makes an instrumented
// HTTP request, and finally fires pagehide so the teardown housekeeping
// flushes everything.
//
// Environment Variables:
//
//	INSIGHTS_LOG_LEVEL  - DEBUG, INFO, WARN or ERROR (default: INFO)
//	INSIGHTS_LOG_FORMAT - text or json
//
// Example Usage:
//
//	go run ./cmd/insights-page -probe https://example.com
//	go run ./cmd/insights-page -page ./site/index.js -wait
package main

import (
	"context"
	_ "embed"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/channel"
	"github.com/itsneelabh/insights/pkg/core"
	"github.com/itsneelabh/insights/pkg/host"
	"github.com/itsneelabh/insights/pkg/jshost"
	"github.com/itsneelabh/insights/pkg/logger"
)

//go:embed page.js
var demoPage string

func main() {
	var (
		pagePath    string
		sdkURL      string
		snippetName string
		probeURL    string
		legacy      bool
		wait        bool
	)
	flag.StringVar(&pagePath, "page", "", "Page script to evaluate (default: built-in demo page)")
	flag.StringVar(&sdkURL, "sdk-url", "https://js.monitor.azure.com/scripts/b/ai.2.min.js", "URL the SDK bundle is loaded from")
	flag.StringVar(&snippetName, "snippet", jshost.DefaultSnippetName, "Global holding the snippet")
	flag.StringVar(&probeURL, "probe", "", "URL to GET through the instrumented transport")
	flag.BoolVar(&legacy, "legacy", false, "Load in legacy mode")
	flag.BoolVar(&wait, "wait", false, "Wait for SIGINT/SIGTERM before tearing the page down")
	flag.Parse()

	appLogger := logger.New("insights-page")

	code := demoPage
	source := host.ScriptSource{URL: "https://example.com/index.js"}
	if pagePath != "" {
		raw, err := os.ReadFile(pagePath)
		if err != nil {
			log.Fatalf("Failed to read page script: %v", err)
		}
		code = string(raw)
		source.URL = "file://" + pagePath
	}

	page := jshost.NewPage(jshost.WithLogger(appLogger))
	if _, err := page.RunScript(source, code); err != nil {
		log.Fatalf("Page script failed: %v", err)
	}
	if _, err := page.RunSDKScript(host.ScriptSource{URL: sdkURL}, ""); err != nil {
		log.Fatalf("SDK script failed: %v", err)
	}

	o, err := page.Load(snippetName, legacy,
		bootstrap.WithChannelOptions(channel.WithOutput(os.Stdout), channel.WithLogger(appLogger)),
	)
	if err != nil {
		if core.IsConfigurationError(err) {
			log.Fatalf("Configuration error: %v", err)
		}
		log.Fatalf("Failed to load SDK: %v", err)
	}
	if drainErr := o.LastDrainError(); drainErr != nil {
		appLogger.Warn("Queued call failed", map[string]interface{}{"error": drainErr.Error()})
	}

	appLogger.Info("SDK ready", map[string]interface{}{
		"snippet_version": o.SnippetVersion(),
		"sdk_src":         o.Context().Internal().SDKSrc,
		"session":         o.Context().SessionManager.Automatic().ID,
	})

	if probeURL != "" {
		probe(o, probeURL, appLogger)
	}

	if wait {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
	}

	handled := page.Dispatch(host.SignalPageHide)
	appLogger.Info("Page hidden", map[string]interface{}{"listeners": handled})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Unload(ctx); err != nil {
		log.Fatalf("Unload failed: %v", err)
	}
}

func probe(o *bootstrap.Orchestrator, url string, appLogger core.Logger) {
	client := &http.Client{
		Transport: o.Dependencies().Transport(http.DefaultTransport),
		Timeout:   10 * time.Second,
	}
	resp, err := client.Get(url)
	if err != nil {
		appLogger.Warn("Probe failed", map[string]interface{}{"url": url, "error": err.Error()})
		return
	}
	_ = resp.Body.Close()
	appLogger.Info("Probe finished", map[string]interface{}{"url": url, "status": resp.StatusCode})
}
