//go:build linux

package metrics

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/sysfs"
	"golang.org/x/sys/unix"
)

// System は /proc と /sys から実機のメトリクスを読み取る
type System struct {
	sampler

	proc     procfs.FS
	sys      *sysfs.FS
	diskPath string

	cpuMu     sync.Mutex
	prevBusy  float64
	prevTotal float64
}

var _ Provider = (*System)(nil)

// NewSystem は実機プロバイダを作成する
// diskPath の属するファイルシステムの使用率を DiskUsage として報告する
func NewSystem(diskPath string) (*System, error) {
	proc, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, errors.Wrap(err, "open procfs")
	}
	if diskPath == "" {
		diskPath = "/"
	}

	s := &System{
		proc:     proc,
		diskPath: diskPath,
	}
	// 温度センサーがない環境では Temperature は 0 のまま
	if sys, err := sysfs.NewDefaultFS(); err == nil {
		s.sys = &sys
	}

	// 初回の CPU 使用率を差分で出すための基準点
	if stat, err := proc.Stat(); err == nil {
		s.prevBusy, s.prevTotal = cpuTimes(stat.CPUTotal)
	}

	s.read = s.next
	return s, nil
}

func (s *System) next() Snapshot {
	snap := Snapshot{Timestamp: time.Now()}

	if stat, err := s.proc.Stat(); err == nil {
		snap.CPUUsage = s.cpuUsage(stat.CPUTotal)
	}

	if mi, err := s.proc.Meminfo(); err == nil && mi.MemTotal != nil {
		total := *mi.MemTotal * 1024
		var avail uint64
		if mi.MemAvailable != nil {
			avail = *mi.MemAvailable * 1024
		}
		snap.TotalMemory = total
		snap.AvailableMemory = avail
		if total > 0 {
			snap.MemoryUsage = float64(total-avail) / float64(total) * 100
		}
	}

	if usage, err := diskUsage(s.diskPath); err == nil {
		snap.DiskUsage = usage
	}

	if s.sys != nil {
		snap.Temperature = maxThermal(s.sys)
	}

	return snap
}

func (s *System) cpuUsage(c procfs.CPUStat) float64 {
	busy, total := cpuTimes(c)

	s.cpuMu.Lock()
	defer s.cpuMu.Unlock()

	dBusy := busy - s.prevBusy
	dTotal := total - s.prevTotal
	s.prevBusy, s.prevTotal = busy, total

	if dTotal <= 0 {
		return 0
	}
	usage := dBusy / dTotal * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

func cpuTimes(c procfs.CPUStat) (busy, total float64) {
	idle := c.Idle + c.Iowait
	busy = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return busy, busy + idle
}

func diskUsage(path string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, errors.Wrapf(err, "statfs %s", path)
	}
	bsize := uint64(st.Bsize)
	used := (st.Blocks - st.Bfree) * bsize
	avail := st.Bavail * bsize
	if used+avail == 0 {
		return 0, nil
	}
	return float64(used) / float64(used+avail) * 100, nil
}

func maxThermal(fs *sysfs.FS) float64 {
	zones, err := fs.ClassThermalZoneStats()
	if err != nil {
		return 0
	}
	var hottest float64
	for _, z := range zones {
		// millidegree Celsius
		if c := float64(z.Temp) / 1000; c > hottest {
			hottest = c
		}
	}
	return hottest
}
