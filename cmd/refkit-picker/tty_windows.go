//go:build windows

package main

import (
	"errors"
	"os"
)

func openTTY() (*os.File, error) {
	return os.OpenFile("CONIN$", os.O_RDWR, 0)
}

func checkTTY() error {
	f, err := openTTY()
	if err != nil {
		return errors.New("no console available")
	}
	f.Close()
	return nil
}

func checkTERM() error { return nil }

func checkTermWidth() error { return nil }

// acquireLock is a no-op on Windows.
func acquireLock(string) (int, error) { return -1, nil }

func releaseLock(int) {}
