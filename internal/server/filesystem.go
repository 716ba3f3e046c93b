package server

import (
	"os"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"ytdl-server/internal/config"
	"ytdl-server/internal/errors"
)

// PrepareFilesystem creates the download and temp directories
func PrepareFilesystem(cfg *config.Config) error {
	dirs := []string{cfg.Storage.DownloadDir, cfg.Storage.TempDir}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	return nil
}

// Resources is a snapshot of host capacity relevant to the fetch pool.
type Resources struct {
	DiskFreeBytes   uint64  `json:"disk_free_bytes"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	MemAvailable    uint64  `json:"mem_available_bytes"`
}

// HostResources reports free space on the volume holding dir and available
// memory.
func HostResources(dir string) (Resources, error) {
	var res Resources

	usage, err := disk.Usage(dir)
	if err != nil {
		return res, errors.Wrap(err, "failed to get disk usage")
	}
	res.DiskFreeBytes = usage.Free
	res.DiskUsedPercent = usage.UsedPercent

	v, err := mem.VirtualMemory()
	if err != nil {
		return res, errors.Wrap(err, "failed to get memory stats")
	}
	res.MemAvailable = v.Available
	return res, nil
}
