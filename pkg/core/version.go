package core

// Version is the SDK release, reported as ai.internal.sdkVersion "go:<Version>".
const Version = "1.0.0"

// SDKVersionTag is the value stamped into ai.internal.sdkVersion.
const SDKVersionTag = "go:" + Version
