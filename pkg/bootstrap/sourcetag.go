package bootstrap

import (
	"strconv"
	"strings"
	"sync"

	"github.com/itsneelabh/insights/pkg/host"
)

// cdnFragments identify the SDK's CDNs; cdn<N> is the 1-based index.
var cdnFragments = []string{
	"://az416426.vo.msecnd.net/",
	"://js.monitor.azure.com/",
}

// DeriveSourceTag describes where the SDK script was loaded from, such as
// "cdn1", "cdn2-next" or "cdn1-beta.mod". It reports false when the script
// is unknown or not served from a known CDN.
func DeriveSourceTag(env host.Environment) (tag string, ok bool) {
	defer func() {
		if recover() != nil {
			tag, ok = "", false
		}
	}()
	if env == nil {
		return "", false
	}
	script, found := env.CurrentScript()
	if !found || script.URL == "" {
		return "", false
	}

	url := strings.ToLower(script.URL)
	for i, fragment := range cdnFragments {
		if !strings.Contains(url, fragment) {
			continue
		}
		tag = "cdn" + strconv.Itoa(i+1)
		if !strings.Contains(url, "/scripts/") {
			if strings.Contains(url, "/next/") {
				tag += "-next"
			} else if strings.Contains(url, "/beta/") {
				tag += "-beta"
			}
		}
		if script.Module {
			tag += ".mod"
		}
		return tag, true
	}
	return "", false
}

type sourceTagCapture struct {
	once sync.Once
	tag  string
	ok   bool
}

func (c *sourceTagCapture) capture(env host.Environment) (string, bool) {
	c.once.Do(func() {
		c.tag, c.ok = DeriveSourceTag(env)
	})
	return c.tag, c.ok
}

var processSourceTag sourceTagCapture

// CaptureSourceTag derives the source tag from env on its first call in the
// process and returns that value on every later call, whatever env is.
func CaptureSourceTag(env host.Environment) (string, bool) {
	return processSourceTag.capture(env)
}
