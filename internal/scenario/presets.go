package scenario

import (
	"time"

	"hwstress/internal/fault"
	"hwstress/internal/worker"
)

func single(kind worker.Kind) []WorkerSpec {
	return []WorkerSpec{{Kind: kind, MonitorMetrics: true}}
}

// QuickScenario はクイックテスト用シナリオを返す
// 全種類を短時間・低強度で動かす動作確認用
func QuickScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "quick"
	cfg.Description = "Short low-intensity run of every worker kind"
	cfg.Duration = 5 * time.Second
	cfg.Intensity = 2
	cfg.Workers = []WorkerSpec{
		{Kind: worker.KindCPU, MonitorMetrics: true},
		{Kind: worker.KindMemory, MonitorMetrics: true},
		{Kind: worker.KindDisk, MonitorMetrics: true},
		{Kind: worker.KindGPU, MonitorMetrics: true},
		{Kind: worker.KindNetwork, MonitorMetrics: true},
	}
	cfg.EnableFaults = false
	return cfg
}

// CPUScenario はCPUのみの負荷を返す
func CPUScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "cpu"
	cfg.Description = "CPU saturation with trigonometric busy work"
	cfg.Duration = 60 * time.Second
	cfg.Intensity = 8
	cfg.Workers = single(worker.KindCPU)
	cfg.EnableFaults = false
	return cfg
}

// MemoryScenario はメモリのみの負荷を返す
func MemoryScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "memory"
	cfg.Description = "Memory allocation, fill and checksum verification"
	cfg.Duration = 60 * time.Second
	cfg.Intensity = 5
	cfg.Workers = single(worker.KindMemory)
	cfg.EnableFaults = false
	return cfg
}

// DiskScenario はディスクのみの負荷を返す
func DiskScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "disk"
	cfg.Description = "Disk write, fsync and read-back verification"
	cfg.Duration = 60 * time.Second
	cfg.Intensity = 5
	cfg.Workers = single(worker.KindDisk)
	cfg.EnableFaults = false
	return cfg
}

// GPUScenario は行列積による疑似GPU負荷を返す
func GPUScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "gpu"
	cfg.Description = "Simulated GPU load with float64 matrix multiplication"
	cfg.Duration = 60 * time.Second
	cfg.Intensity = 8
	cfg.Workers = single(worker.KindGPU)
	cfg.EnableFaults = false
	return cfg
}

// NetworkScenario はループバック通信の負荷を返す
func NetworkScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "network"
	cfg.Description = "Loopback websocket echo round trips"
	cfg.Duration = 60 * time.Second
	cfg.Intensity = 4
	cfg.Workers = single(worker.KindNetwork)
	cfg.EnableFaults = false
	return cfg
}

// CombinedScenario はCPUとメモリを同時に動かす
func CombinedScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "combined"
	cfg.Description = "CPU and memory workers running together"
	cfg.Duration = 120 * time.Second
	cfg.Intensity = 6
	cfg.Workers = []WorkerSpec{
		{Kind: worker.KindCPU, MonitorMetrics: true},
		{Kind: worker.KindMemory, MonitorMetrics: true},
	}
	cfg.EnableFaults = false
	return cfg
}

// FullScenario は全種類を高強度で動かし、障害も定期的に注入する
func FullScenario() Config {
	cfg := QuickScenario()
	cfg.Name = "full"
	cfg.Description = "Every worker kind at high intensity with scheduled faults"
	cfg.Duration = 300 * time.Second
	cfg.Intensity = 8
	cfg.EnableFaults = true
	cfg.ScheduleInterval = 15 * time.Second
	cfg.ScheduledFaults = []fault.Config{
		scheduled(fault.TypeCPUOverload, "cpu-1", fault.SeverityMedium, 0.8),
		scheduled(fault.TypeMemoryCorruption, "memory-1", fault.SeverityLow, 0.8),
		scheduled(fault.TypeDiskIOError, "disk-1", fault.SeverityLow, 0.5),
		scheduled(fault.TypeTimingAnomaly, "network-1", fault.SeverityLow, 0.5),
	}
	return cfg
}

// FaultScenario は障害注入と自動復旧の確認用
func FaultScenario() Config {
	cfg := DefaultConfig()
	cfg.Name = "faults"
	cfg.Description = "Fault injection and auto-recovery while a CPU worker runs"
	cfg.Duration = 30 * time.Second
	cfg.Intensity = 3
	cfg.Workers = single(worker.KindCPU)
	cfg.EnableFaults = true
	cfg.RecoveryWindow = 5 * time.Second
	cfg.Faults = []fault.Config{
		fault.NewConfig(fault.TypeCPUOverload, "t1", fault.SeverityLow),
		fault.NewConfig(fault.TypeMemoryCorruption, "t2", fault.SeverityLow),
		fault.NewConfig(fault.TypeProcessKill, "t3", fault.SeverityHigh),
	}
	cfg.ScheduleInterval = 5 * time.Second
	cfg.ScheduledFaults = []fault.Config{
		scheduled(fault.TypeDiskIOError, "t4", fault.SeverityLow, 0.7),
		scheduled(fault.TypeNetworkPacketLoss, "t5", fault.SeverityMedium, 0.7),
		scheduled(fault.TypeSystemCallFailure, "t6", fault.SeverityLow, 0.7),
	}
	return cfg
}

func scheduled(t fault.Type, target string, sev fault.Severity, p float64) fault.Config {
	cfg := fault.NewConfig(t, target, sev)
	cfg.Probability = p
	return cfg
}

var presets = map[string]func() Config{
	"quick":    QuickScenario,
	"cpu":      CPUScenario,
	"memory":   MemoryScenario,
	"disk":     DiskScenario,
	"gpu":      GPUScenario,
	"network":  NetworkScenario,
	"combined": CombinedScenario,
	"full":     FullScenario,
	"faults":   FaultScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"quick", "cpu", "memory", "disk", "gpu", "network", "combined", "full", "faults"}
}
