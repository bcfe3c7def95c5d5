package keys

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/mackerelio/go-osstat/memory"
)

// Fingerprint gathers a coarse description of the device and environment.
// It only diversifies the entropy fed into master key generation; the random
// seed carries the security, so unreadable sources are skipped silently.
func Fingerprint() []byte {
	parts := []string{runtime.GOOS, runtime.GOARCH, strconv.Itoa(runtime.NumCPU())}
	if host, err := os.Hostname(); err == nil && host != "" {
		parts = append(parts, host)
	}
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if id, err := os.ReadFile(p); err == nil {
			if s := strings.TrimSpace(string(id)); s != "" {
				parts = append(parts, s)
				break
			}
		}
	}
	if mem, err := memory.Get(); err == nil && mem != nil {
		parts = append(parts, strconv.FormatUint(mem.Total, 10))
	}
	return []byte(strings.Join(parts, ":"))
}
