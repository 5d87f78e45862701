//go:build !unix

package main

import "github.com/marmos91/dittorpc/pkg/registry"

func watchDumpSignal(*registry.Registry) func() {
	return func() {}
}
