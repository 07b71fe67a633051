//go:build !linux
// +build !linux

package rpimailbox

import (
	"github.com/pkg/errors"
)

func vcOpen(path string) (int, error) {
	return 0, errors.New("no vcio char device outside of linux")
}

func vcClose(handle int) error {
	return nil
}

func vcExchange(handle int, words []uint32) error {
	return errors.New("no vcio char device outside of linux")
}
