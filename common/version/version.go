package version

import version2 "github.com/hashicorp/go-version"

// Version is the engine version. It is overridden at build time with -ldflags.
var Version = "0.1.0"

// NatsVersion is the mandatory minimum version of NATS that is supported by the engine
var NatsVersion, _ = version2.NewVersion("v2.10.12")

// MinClientVersion is the oldest client version the API accepts.
var MinClientVersion, _ = version2.NewVersion("0.1.0")

// IsCompatible returns true if a client at version v may call the API, along with the oldest version accepted.
func IsCompatible(v *version2.Version) (bool, *version2.Version) {
	return v.GreaterThanOrEqual(MinClientVersion), MinClientVersion
}
