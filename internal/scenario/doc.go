// Package scenario は統合シナリオ実行機能を提供する。
//
// シナリオエンジンはメトリクス供給元、オーケストレーター、FaultEngine を
// 1回の実行のために組み立て、コールバックをイベントバスへ流す。
//
// # 機能
//
// - シナリオ定義と実行
// - 定義済みプリセットシナリオ
// - 実行結果のレポート生成
// - 実行中の状態スナップショット（API 用）
//
// # プリセットシナリオ
//
// - quick: 全種類を短時間・低強度で実行
// - cpu, memory, disk, gpu, network: 単一資源の負荷
// - combined: CPU とメモリの同時負荷
// - full: 全種類を高強度で実行し、障害を定期注入
// - faults: 障害注入と自動復旧の確認
//
// # 使用例
//
//	config := scenario.QuickScenario()
//	engine := scenario.New(config)
//	engine.SetEventBus(bus)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
