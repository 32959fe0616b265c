//go:build !linux

package capture

import (
	"context"
	"fmt"
	"runtime"
)

// V4L2 is only functional on Linux.
type V4L2 struct{}

func NewV4L2() *V4L2 { return &V4L2{} }

func (b *V4L2) Name() string      { return V4L2Name }
func (b *V4L2) IsAvailable() bool { return false }

func (b *V4L2) Devices() ([]DeviceInfo, error) { return nil, nil }

func (b *V4L2) Open(context.Context, Request) (Stream, error) {
	return nil, fmt.Errorf("v4l2: no such device on %s", runtime.GOOS)
}
