package skywave

import (
	"runtime/debug"
)

// Set at build time via `-ldflags "-X 'github.com/charlie-foxtrot/skywave/src.SKYWAVE_VERSION=X'"`
var SKYWAVE_VERSION string

func init() {
	if SKYWAVE_VERSION != "" {
		return
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		SKYWAVE_VERSION = bi.Main.Version
		return
	}
	SKYWAVE_VERSION = "dev"
}
