package apiclient

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v4/host"
)

var hostPlatform = sync.OnceValue(func() string {
	info, err := host.Info()
	if err != nil || info.Platform == "" {
		return runtime.GOOS + "; " + runtime.GOARCH
	}
	parts := []string{info.Platform}
	if info.PlatformVersion != "" {
		parts[0] += " " + info.PlatformVersion
	}
	arch := info.KernelArch
	if arch == "" {
		arch = runtime.GOARCH
	}
	return strings.Join(append(parts, arch), "; ")
})

// DefaultUserAgent identifies rentalctl and the host OS, e.g.
// "rentalctl/1.2.0 (ubuntu 24.04; x86_64)".
func DefaultUserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("rentalctl/%s (%s)", version, hostPlatform())
}
