package insights

import (
	"github.com/itsneelabh/insights/pkg/bootstrap"
	"github.com/itsneelabh/insights/pkg/core"
)

// Version information for the SDK
const (
	// Version is the current SDK release
	Version = core.Version

	// SDKVersionTag is stamped on every item as ai.internal.sdkVersion
	SDKVersionTag = core.SDKVersionTag

	// DefaultSnippetVersion is assumed when the snippet does not report one
	DefaultSnippetVersion = bootstrap.DefaultSnippetVersion
)
