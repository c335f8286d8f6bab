//go:build cuda

package native

/*
#cgo LDFLAGS: -lcudart

// Minimal CUDA runtime forward declarations to avoid requiring headers at compile time.
// Linker will still require libcudart when building with the cuda tag.
typedef void* cudaStream_t;
typedef int cudaError_t;

extern const char* cudaGetErrorString(cudaError_t err);
extern cudaError_t cudaGetDeviceCount(int* count);
extern cudaError_t cudaMemGetInfo(unsigned long long* free, unsigned long long* total);
extern cudaError_t cudaStreamCreate(cudaStream_t* stream);
extern cudaError_t cudaStreamDestroy(cudaStream_t stream);
extern cudaError_t cudaStreamSynchronize(cudaStream_t stream);
extern cudaError_t cudaStreamQuery(cudaStream_t stream);
extern cudaError_t cudaMalloc(void** ptr, unsigned long long size);
extern cudaError_t cudaFree(void* ptr);
extern cudaError_t cudaMemcpy(void* dst, const void* src, unsigned long long size, int kind);
extern cudaError_t cudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream);
extern cudaError_t cudaHostRegister(void* ptr, unsigned long long size, unsigned int flags);
extern cudaError_t cudaHostUnregister(void* ptr);

#define ACCRT_CUDA_MEMCPY_HOST_TO_DEVICE 1
#define ACCRT_CUDA_MEMCPY_DEVICE_TO_HOST 2
#define ACCRT_CUDA_HOST_REGISTER_DEFAULT 0

static const char* accrtCudaGetErrorString(cudaError_t err) {
	return cudaGetErrorString(err);
}

static int accrtCudaGetDeviceCount(int* out) {
	return (int)cudaGetDeviceCount(out);
}

static int accrtCudaMemGetInfo(unsigned long long* free, unsigned long long* total) {
	return (int)cudaMemGetInfo(free, total);
}

static int accrtCudaStreamCreate(cudaStream_t* out) {
	return (int)cudaStreamCreate(out);
}

static int accrtCudaStreamDestroy(cudaStream_t stream) {
	return (int)cudaStreamDestroy(stream);
}

static int accrtCudaStreamSynchronize(cudaStream_t stream) {
	return (int)cudaStreamSynchronize(stream);
}

static int accrtCudaStreamQuery(cudaStream_t stream) {
	return (int)cudaStreamQuery(stream);
}

static int accrtCudaMalloc(void** ptr, unsigned long long size) {
	return (int)cudaMalloc(ptr, size);
}

static int accrtCudaFree(void* ptr) {
	return (int)cudaFree(ptr);
}

static int accrtCudaMemcpy(void* dst, const void* src, unsigned long long size, int kind) {
	return (int)cudaMemcpy(dst, src, size, kind);
}

static int accrtCudaMemcpyAsync(void* dst, const void* src, unsigned long long size, int kind, cudaStream_t stream) {
	return (int)cudaMemcpyAsync(dst, src, size, kind, stream);
}

static int accrtCudaHostRegister(void* ptr, unsigned long long size) {
	return (int)cudaHostRegister(ptr, size, ACCRT_CUDA_HOST_REGISTER_DEFAULT);
}

static int accrtCudaHostUnregister(void* ptr) {
	return (int)cudaHostUnregister(ptr);
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// CUDA runtime error codes the driver branches on.
const (
	codeNotReady                    = 600
	codeHostMemoryAlreadyRegistered = 712
)

// Error is a non-success cudaError_t.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cuda runtime error %d: %s", e.Code, e.Msg)
}

// IsAlreadyRegistered reports whether err is cudaErrorHostMemoryAlreadyRegistered.
func IsAlreadyRegistered(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Code == codeHostMemoryAlreadyRegistered
}

type Stream struct {
	ptr C.cudaStream_t
}

func DeviceCount() (int, error) {
	var count C.int
	if err := cudaErr(C.accrtCudaGetDeviceCount(&count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

// MemInfo returns free and total device memory in bytes.
func MemInfo() (free, total int64, err error) {
	var f, t C.ulonglong
	if err := cudaErr(C.accrtCudaMemGetInfo(&f, &t)); err != nil {
		return 0, 0, err
	}
	return int64(f), int64(t), nil
}

func NewStream() (Stream, error) {
	var stream C.cudaStream_t
	if err := cudaErr(C.accrtCudaStreamCreate(&stream)); err != nil {
		return Stream{}, err
	}
	return Stream{ptr: stream}, nil
}

func (s Stream) Destroy() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.accrtCudaStreamDestroy(s.ptr))
}

func (s Stream) Synchronize() error {
	if s.ptr == nil {
		return nil
	}
	return cudaErr(C.accrtCudaStreamSynchronize(s.ptr))
}

// Query reports whether all work on the stream has completed.
func (s Stream) Query() (bool, error) {
	if s.ptr == nil {
		return true, nil
	}
	code := C.accrtCudaStreamQuery(s.ptr)
	if code == codeNotReady {
		return false, nil
	}
	if err := cudaErr(code); err != nil {
		return false, err
	}
	return true, nil
}

func Malloc(bytes int64) (unsafe.Pointer, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("device alloc size must be > 0")
	}
	var ptr unsafe.Pointer
	if err := cudaErr(C.accrtCudaMalloc((*unsafe.Pointer)(&ptr), C.ulonglong(bytes))); err != nil {
		return nil, err
	}
	return ptr, nil
}

func Free(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	return cudaErr(C.accrtCudaFree(ptr))
}

// HostRegister page-locks an existing host range.
func HostRegister(ptr unsafe.Pointer, bytes int64) error {
	return cudaErr(C.accrtCudaHostRegister(ptr, C.ulonglong(bytes)))
}

func HostUnregister(ptr unsafe.Pointer) error {
	return cudaErr(C.accrtCudaHostUnregister(ptr))
}

func MemcpyH2D(dst, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.accrtCudaMemcpy(dst, src, C.ulonglong(bytes), C.ACCRT_CUDA_MEMCPY_HOST_TO_DEVICE))
}

func MemcpyD2H(dst, src unsafe.Pointer, bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.accrtCudaMemcpy(dst, src, C.ulonglong(bytes), C.ACCRT_CUDA_MEMCPY_DEVICE_TO_HOST))
}

func MemcpyH2DAsync(dst, src unsafe.Pointer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.accrtCudaMemcpyAsync(dst, src, C.ulonglong(bytes), C.ACCRT_CUDA_MEMCPY_HOST_TO_DEVICE, stream.ptr))
}

func MemcpyD2HAsync(dst, src unsafe.Pointer, bytes int64, stream Stream) error {
	if bytes <= 0 {
		return nil
	}
	return cudaErr(C.accrtCudaMemcpyAsync(dst, src, C.ulonglong(bytes), C.ACCRT_CUDA_MEMCPY_DEVICE_TO_HOST, stream.ptr))
}

func cudaErr(code C.int) error {
	if code == 0 {
		return nil
	}
	msg := C.GoString(C.accrtCudaGetErrorString(C.cudaError_t(code)))
	return &Error{Code: int(code), Msg: msg}
}
