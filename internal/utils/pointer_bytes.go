package utils

import (
	"unsafe"
)

func PointerToBytes[T any](val *T, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(val)), length)
}

func BytesToPointer[T any](b []byte) *T {
	return (*T)(unsafe.Pointer(unsafe.SliceData(b)))
}
