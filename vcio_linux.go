package rpimailbox

import (
	"runtime"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// _IOWR(100, 0, char *) of the bcm2708 vcio driver
var mboxProperty = ioctl.Iowr(100, 0, unsafe.Sizeof(uintptr(0)))

func vcOpen(path string) (int, error) {
	fileDesc, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return 0, errors.Wrap(err, "mbox open")
	}
	return fileDesc, nil
}

func vcClose(handle int) error {
	err := unix.Close(handle)
	if err != nil {
		return errors.Wrap(err, "mbox close")
	}
	return nil
}

func vcExchange(handle int, words []uint32) error {
	err := ioctl.Ioctl(uintptr(handle), mboxProperty, uintptr(unsafe.Pointer(&words[0])))
	runtime.KeepAlive(words)
	return err
}
