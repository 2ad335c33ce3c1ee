// Package fault は合成障害の注入と自動復旧を提供する。
//
// Engine はワーカーとは独立に動作し、有効な障害の集合と上限付きの履歴を持つ。
// 障害の副作用はすべて有界で、復旧時に元に戻せるものに限られる。
//
// # 障害タイプ
//
//   - MEMORY_CORRUPTION: 8〜64 MiB のバッファ確保を繰り返す（実際の破壊はしない）
//   - CPU_OVERLOAD: 重大度に応じたビジーループを追加する
//   - DISK_IO_ERROR: 一時ディレクトリで書き込みと削除を繰り返す
//   - NETWORK_PACKET_LOSS, TIMING_ANOMALY: 何もしないタイマー
//   - PROCESS_KILL, SYSTEM_CALL_FAILURE, CUSTOM_FAULT: ログのみ（実プロセスには触れない）
//
// # 自動復旧
//
// Start で起動した復旧ループが ScanInterval ごとに有効な障害を調べ、
// RecoveryWindow（設定に Duration があればそちら）を過ぎたものを解除する。
//
// # 使用例
//
//	engine := fault.New(fault.DefaultEngineConfig())
//	engine.OnRecovered(func(r fault.Record) {
//	    fmt.Println("recovered", r.Target)
//	})
//	engine.Start(ctx)
//	defer engine.Stop()
//
//	rec, err := engine.InjectType(ctx, fault.TypeCPUOverload, "t1", fault.SeverityLow)
package fault
