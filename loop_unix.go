//go:build linux || darwin

package timercore

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// loopWaiter is the Unix wait/wake mechanism: a wake fd (eventfd on Linux,
// self-pipe on Darwin) polled with the computed timer deadline.
type loopWaiter struct {
	readFd  int
	writeFd int
	closed  atomic.Bool
	buf     [8]byte
}

func (w *loopWaiter) init() error {
	r, wr, err := createWakeFd()
	if err != nil {
		return err
	}
	w.readFd = r
	w.writeFd = wr
	return nil
}

// wait blocks until the wake fd is readable or timeoutMs elapses, then
// drains the fd.
func (w *loopWaiter) wait(timeoutMs int) error {
	fds := []unix.PollFd{{Fd: int32(w.readFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil && err != unix.EINTR {
		return err
	}
	if n > 0 {
		w.drain()
	}
	return nil
}

func (w *loopWaiter) drain() {
	for {
		if _, err := unix.Read(w.readFd, w.buf[:]); err != nil {
			return
		}
	}
}

// wake makes the current or next wait return immediately. Native
// endianness: the counter value is irrelevant, only readability matters.
func (w *loopWaiter) wake() error {
	if w.closed.Load() {
		return ErrLoopTerminated
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(w.writeFd, buf)
	return err
}

func (w *loopWaiter) close() {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	_ = unix.Close(w.readFd)
	if w.writeFd != w.readFd {
		_ = unix.Close(w.writeFd)
	}
}
