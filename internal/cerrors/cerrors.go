package cerrors

import (
	"errors"
	"fmt"
)

// ErrorType はエラーの分類を表す
type ErrorType string

const (
	ErrorTypeSetup         ErrorType = "SETUP_FAILURE"
	ErrorTypeRuntime       ErrorType = "RUNTIME_FAILURE"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_ERROR"
)

type typed interface {
	ErrorType() ErrorType
}

// Setup は作業開始前のリソース確保失敗
type Setup struct {
	Component string
	Target    string
	Reason    string
}

func (e Setup) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("[%s] setup failed: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("[%s] setup failed for '%s': %s", e.Component, e.Target, e.Reason)
}

func (e Setup) ErrorType() ErrorType {
	return ErrorTypeSetup
}

// Runtime はイテレーション中のエラー
type Runtime struct {
	Component string
	Target    string
	Reason    string
}

func (e Runtime) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("[%s] runtime failure: %s", e.Component, e.Reason)
	}
	return fmt.Sprintf("[%s] runtime failure in '%s': %s", e.Component, e.Target, e.Reason)
}

func (e Runtime) ErrorType() ErrorType {
	return ErrorTypeRuntime
}

// Configuration は不正な設定値
type Configuration struct {
	Field  string
	Reason string
}

func (e Configuration) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration '%s': %s", e.Field, e.Reason)
}

func (e Configuration) ErrorType() ErrorType {
	return ErrorTypeConfiguration
}

// TypeOf はラップされたエラーも含めて分類を返す
// 分類できないエラーはRuntimeとして扱う
func TypeOf(err error) ErrorType {
	var t typed
	if errors.As(err, &t) {
		return t.ErrorType()
	}
	return ErrorTypeRuntime
}

// IsConfiguration は設定エラーかどうかを返す
func IsConfiguration(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeConfiguration
}

// IsSetup はセットアップ失敗かどうかを返す
func IsSetup(err error) bool {
	return err != nil && TypeOf(err) == ErrorTypeSetup
}
