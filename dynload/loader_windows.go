//go:build windows

package dynload

import (
	"golang.org/x/sys/windows"
)

// SystemLoader resolves symbols from DLLs in the Windows system directory.
type SystemLoader struct{}

func (SystemLoader) Open(library string) (LibHandle, error) {
	h, err := windows.LoadLibraryEx(library, 0, windows.LOAD_LIBRARY_SEARCH_SYSTEM32)
	if err != nil {
		return 0, err
	}
	return LibHandle(h), nil
}

func (SystemLoader) Lookup(h LibHandle, symbol string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(h), symbol)
}

func (SystemLoader) Close(h LibHandle) error {
	return windows.FreeLibrary(windows.Handle(h))
}
