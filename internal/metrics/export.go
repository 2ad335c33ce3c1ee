package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Summary はスナップショット列の集計
type Summary struct {
	Samples        int       `json:"samples"`
	AvgCPU         float64   `json:"avg_cpu"`
	MaxCPU         float64   `json:"max_cpu"`
	AvgMemory      float64   `json:"avg_memory"`
	MaxMemory      float64   `json:"max_memory"`
	AvgDisk        float64   `json:"avg_disk"`
	MaxDisk        float64   `json:"max_disk"`
	AvgTemperature float64   `json:"avg_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
}

// Summarize はスナップショット列を集計する
func Summarize(snaps []Snapshot) Summary {
	sum := Summary{Samples: len(snaps)}
	if len(snaps) == 0 {
		return sum
	}

	for _, s := range snaps {
		sum.AvgCPU += s.CPUUsage
		sum.AvgMemory += s.MemoryUsage
		sum.AvgDisk += s.DiskUsage
		sum.AvgTemperature += s.Temperature
		sum.MaxCPU = max(sum.MaxCPU, s.CPUUsage)
		sum.MaxMemory = max(sum.MaxMemory, s.MemoryUsage)
		sum.MaxDisk = max(sum.MaxDisk, s.DiskUsage)
		sum.MaxTemperature = max(sum.MaxTemperature, s.Temperature)
	}

	n := float64(len(snaps))
	sum.AvgCPU /= n
	sum.AvgMemory /= n
	sum.AvgDisk /= n
	sum.AvgTemperature /= n
	sum.Start = snaps[0].Timestamp
	sum.End = snaps[len(snaps)-1].Timestamp
	return sum
}

// String は集計を人間向けに整形する
func (s Summary) String() string {
	if s.Samples == 0 {
		return "No metrics collected."
	}
	return fmt.Sprintf("CPU: avg=%.1f%%, max=%.1f%%\nMemory: avg=%.1f%%, max=%.1f%%\nDisk: avg=%.1f%%, max=%.1f%%\nTemperature: avg=%.1fC, max=%.1fC\nSamples: %d",
		s.AvgCPU, s.MaxCPU,
		s.AvgMemory, s.MaxMemory,
		s.AvgDisk, s.MaxDisk,
		s.AvgTemperature, s.MaxTemperature,
		s.Samples)
}

var csvHeader = []string{
	"timestamp", "cpu_usage", "memory_usage", "disk_usage",
	"temperature", "total_memory", "available_memory",
}

// WriteCSV はスナップショット列を CSV で書き出す
// 空の場合は何も書かない
func WriteCSV(w io.Writer, snaps []Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, s := range snaps {
		row := []string{
			s.Timestamp.Format(time.RFC3339Nano),
			formatFloat(s.CPUUsage),
			formatFloat(s.MemoryUsage),
			formatFloat(s.DiskUsage),
			formatFloat(s.Temperature),
			strconv.FormatUint(s.TotalMemory, 10),
			strconv.FormatUint(s.AvailableMemory, 10),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

// WriteJSON はスナップショット列をインデント付き JSON で書き出す
func WriteJSON(w io.Writer, snaps []Snapshot) error {
	if snaps == nil {
		snaps = []Snapshot{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(snaps), "encode json")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
