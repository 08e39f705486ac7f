package annindex

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/lolishinshi/imsearch-go/internal/ierrors"
)

// NativeIndex binds one instance of the external binary-IVF engine
// via purego: train/add_with_ids/search/write/merge, mirroring the
// faiss IndexIVFFlatOnDisk C API shape (nlist, nprobe, on-disk
// storage) but over Hamming distance instead of L2.
type NativeIndex struct {
	handle uintptr
	mu     sync.Mutex
	cb     *ierrors.CircuitBreaker

	train      func(ptr uintptr, n int32, vectors unsafe.Pointer) int32
	addWithIDs func(ptr uintptr, n int32, vectors unsafe.Pointer, ids unsafe.Pointer) int32
	search     func(ptr uintptr, nq int32, queries unsafe.Pointer, knn int32, nprobe int32, maxDist int32, outIDs unsafe.Pointer, outDist unsafe.Pointer) int32
	write      func(ptr uintptr, path string) int32
	merge      func(ptr uintptr, segmentPath string) int32
	ntotal     func(ptr uintptr) int64
	newIndex   func(nlist int32, onDisk int32, dataPath string) uintptr
	freeIndex  func(ptr uintptr)
	loadQuant  func(ptr uintptr, path string) int32
}

// OpenNative dlopens the ANN engine shared library and creates one
// index handle with nlist coarse buckets. onDiskPath is empty for a
// fully in-memory index (spec §4.4 on-disk/in-memory/no-merge modes).
func OpenNative(libPath string, nlist int, onDiskPath string) (Index, error) {
	lib, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.ErrCodeConfigInvalid, fmt.Errorf("dlopen %s: %w", libPath, err))
	}

	idx := &NativeIndex{cb: ierrors.NewCircuitBreaker("ann-engine", 5, 0)}
	purego.RegisterLibFunc(&idx.train, lib, "imsearch_ivf_train")
	purego.RegisterLibFunc(&idx.addWithIDs, lib, "imsearch_ivf_add_with_ids")
	purego.RegisterLibFunc(&idx.search, lib, "imsearch_ivf_search")
	purego.RegisterLibFunc(&idx.write, lib, "imsearch_ivf_write")
	purego.RegisterLibFunc(&idx.merge, lib, "imsearch_ivf_merge")
	purego.RegisterLibFunc(&idx.ntotal, lib, "imsearch_ivf_ntotal")
	purego.RegisterLibFunc(&idx.newIndex, lib, "imsearch_ivf_new")
	purego.RegisterLibFunc(&idx.freeIndex, lib, "imsearch_ivf_free")
	purego.RegisterLibFunc(&idx.loadQuant, lib, "imsearch_ivf_load_quantizer")

	onDiskFlag := int32(0)
	if onDiskPath != "" {
		onDiskFlag = 1
	}
	idx.handle = idx.newIndex(int32(nlist), onDiskFlag, onDiskPath)
	if idx.handle == 0 {
		return nil, ierrors.New(ierrors.ErrCodeANNFail, "ann engine failed to allocate index", nil)
	}
	return idx, nil
}

func (idx *NativeIndex) Train(ctx context.Context, vectors [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	flat := flatten(vectors)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.cb.Call(func() error {
		rc := idx.train(idx.handle, int32(len(vectors)), unsafe.Pointer(&flat[0]))
		if rc != 0 {
			return ierrors.New(ierrors.ErrCodeANNFail, "train failed", nil)
		}
		return nil
	})
}

func (idx *NativeIndex) LoadQuantizer(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.cb.Call(func() error {
		rc := idx.loadQuant(idx.handle, path)
		if rc != 0 {
			return ierrors.New(ierrors.ErrCodeANNFail, "load_quantizer failed", nil).WithDetail("path", path)
		}
		return nil
	})
}

func (idx *NativeIndex) AddWithIDs(ctx context.Context, vectors [][]byte, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(vectors) != len(ids) {
		return ierrors.New(ierrors.ErrCodeInvalidOptions, "vectors/ids length mismatch", nil)
	}
	if len(vectors) == 0 {
		return nil
	}
	flat := flatten(vectors)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.cb.Call(func() error {
		rc := idx.addWithIDs(idx.handle, int32(len(vectors)), unsafe.Pointer(&flat[0]), unsafe.Pointer(&ids[0]))
		if rc != 0 {
			return ierrors.New(ierrors.ErrCodeANNFail, "add_with_ids failed", nil)
		}
		return nil
	})
}

func (idx *NativeIndex) Search(ctx context.Context, queries [][]byte, opts SearchOptions) ([][]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, nil
	}

	knn := opts.KNN
	if knn <= 0 {
		knn = 10
	}
	nprobe := opts.NProbe
	if nprobe <= 0 {
		nprobe = 1
	}

	flat := flatten(queries)
	outIDs := make([]int64, len(queries)*knn)
	outDist := make([]int32, len(queries)*knn)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	callErr := idx.cb.Call(func() error {
		rc := idx.search(
			idx.handle, int32(len(queries)), unsafe.Pointer(&flat[0]),
			int32(knn), int32(nprobe), opts.Distance,
			unsafe.Pointer(&outIDs[0]), unsafe.Pointer(&outDist[0]),
		)
		if rc != 0 {
			return ierrors.New(ierrors.ErrCodeANNFail, "search failed", nil)
		}
		return nil
	})
	if callErr != nil {
		return nil, callErr
	}

	results := make([][]Hit, len(queries))
	for q := range queries {
		hits := make([]Hit, 0, knn)
		for k := 0; k < knn; k++ {
			id := outIDs[q*knn+k]
			if id < 0 {
				continue
			}
			hits = append(hits, Hit{ID: id, Distance: outDist[q*knn+k]})
		}
		results[q] = hits
	}
	return results, nil
}

func (idx *NativeIndex) Write(path string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rc := idx.write(idx.handle, path)
	if rc != 0 {
		return ierrors.New(ierrors.ErrCodeSegmentWrite, "write failed", nil).WithDetail("path", path)
	}
	return nil
}

func (idx *NativeIndex) Merge(ctx context.Context, segmentPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.cb.Call(func() error {
		rc := idx.merge(idx.handle, segmentPath)
		if rc != 0 {
			return ierrors.New(ierrors.ErrCodeMergeFailed, "merge failed", nil).WithDetail("segment", segmentPath)
		}
		return nil
	})
}

func (idx *NativeIndex) Ntotal() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ntotal(idx.handle)
}

func (idx *NativeIndex) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.handle != 0 {
		idx.freeIndex(idx.handle)
		idx.handle = 0
	}
	return nil
}

func flatten(vectors [][]byte) []byte {
	out := make([]byte, 0, len(vectors)*VectorDim)
	for _, v := range vectors {
		out = append(out, v...)
	}
	return out
}
