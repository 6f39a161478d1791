package main

import (
	"fmt"
	"runtime/debug"
)

// Overridden with -ldflags "-X main.version=v1.2.3".
var version = "dev"

func versionString() string {
	v := version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	return "wfrt " + v
}

func printVersion() {
	fmt.Println(versionString())
}
