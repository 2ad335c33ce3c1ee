//go:build !linux

package metrics

import "github.com/pkg/errors"

// System は Linux 以外では利用できない
type System struct {
	sampler
}

// NewSystem は Linux 以外では常にエラーを返す
func NewSystem(string) (*System, error) {
	return nil, errors.New("system metrics provider requires linux")
}
