package capture

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanVideoDevices lists the v4l2 capture nodes under /dev. The friendly
// label comes from sysfs when the kernel exposes one.
func ScanVideoDevices(_ context.Context) ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	devices := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		name := filepath.Base(p)
		devices = append(devices, DeviceInfo{
			Id:    name,
			Path:  p,
			Label: sysfsLabel(name),
		})
	}

	return devices, nil
}

func sysfsLabel(deviceName string) string {
	raw, err := os.ReadFile(filepath.Join("/sys/class/video4linux", deviceName, "name"))
	if err != nil {
		return deviceName
	}

	label := strings.TrimSpace(string(raw))
	if label == "" {
		return deviceName
	}
	return label
}
