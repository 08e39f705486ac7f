package extract

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// nativeLibrary binds the external ORB-style descriptor extractor via
// purego, the same dlopen/RegisterLibFunc pattern used for the
// process's other externally-loaded native dependencies (ADR-022).
// The extractor is assumed available on the host per spec §1; this
// type only describes the C ABI it is dlopened against.
type nativeLibrary struct {
	handle uintptr
	mu     sync.Mutex
	cb     *ierrors.CircuitBreaker

	detectAndCompute func(gray unsafe.Pointer, width, height int32, maxFeatures int32, outKp unsafe.Pointer, outDesc unsafe.Pointer, outN *int32) int32
	freeResult       func(kp unsafe.Pointer, desc unsafe.Pointer)
}

// OpenNative dlopens the descriptor-extractor shared library at path
// and resolves its exported symbols. Close must be called to release
// the handle.
func OpenNative(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeConfigInvalid, fmt.Errorf("dlopen %s: %w", path, err))
	}

	lib := &nativeLibrary{
		handle: handle,
		cb:     ierrors.NewCircuitBreaker("orb-extractor", 5, 0),
	}
	purego.RegisterLibFunc(&lib.detectAndCompute, handle, "imsearch_orb_detect_and_compute")
	purego.RegisterLibFunc(&lib.freeResult, handle, "imsearch_orb_free_result")

	runtime.SetFinalizer(lib, func(l *nativeLibrary) { _ = l.Close() })
	return lib, nil
}

func (l *nativeLibrary) DetectAndCompute(ctx context.Context, gray []byte, width, height int, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var result Result
	callErr := l.cb.Call(func() error {
		maxFeatures := int32(opts.MaxFeatures)
		var n int32
		var kpOut, descOut unsafe.Pointer

		rc := l.detectAndCompute(
			unsafe.Pointer(&gray[0]), int32(width), int32(height), maxFeatures,
			unsafe.Pointer(&kpOut), unsafe.Pointer(&descOut), &n,
		)
		if rc != 0 {
			return fmt.Errorf("imsearch_orb_detect_and_compute: native error code %d", rc)
		}
		if n == 0 {
			return nil
		}
		defer l.freeResult(kpOut, descOut)

		result.Keypoints = make([]Keypoint, n)
		kpSlice := unsafe.Slice((*nativeKeypoint)(kpOut), n)
		for i, kp := range kpSlice {
			result.Keypoints[i] = Keypoint{X: kp.X, Y: kp.Y, Size: kp.Size, Angle: kp.Angle}
		}

		descBytes := unsafe.Slice((*byte)(descOut), int(n)*DescriptorSize)
		result.Descriptors = append([]byte(nil), descBytes...)
		return nil
	})
	if callErr != nil {
		return Result{}, ierrors.Wrap(ierrors.ErrCodeExtractorFail, callErr)
	}
	return result, nil
}

func (l *nativeLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

type nativeKeypoint struct {
	X, Y, Size, Angle float32
}
