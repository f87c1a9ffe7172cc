// Command xwalk-lua is the extension plugin library. Build it with
//
//	go build -buildmode=c-shared -o libmyext.so ./cmd/xwalk-lua
//
// and place myext.lua next to the library. The host calls XW_Initialize when
// it loads the library.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/zot/xwalk-lua/internal/xwabi"
)

//export XW_Initialize
func XW_Initialize(extension C.int32_t, getInterface unsafe.Pointer) C.int32_t {
	return C.int32_t(xwabi.Initialize(int32(extension), uintptr(getInterface)))
}

func main() {}
