package asset

import (
	"context"
	"sync"
)

// Provider performs the byte transfers for a class of asset refs, e.g.
// everything under http:// or everything on the local filesystem.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string

	// CanHandle reports whether the provider serves ref. It's also
	// asked about storage sources when a storage is added.
	CanHandle(ref string) bool

	// StartTransfer begins fetching the bytes for req and returns
	// without blocking. The outcome must be reported exactly once
	// through out, keyed by req.ID. Cancelling ctx asks the provider
	// to stop, it may still report any outcome.
	StartTransfer(ctx context.Context, req *Request, out *Handoff)
}

// Uploader is implemented by providers that can write to their storages.
type Uploader interface {
	StartUpload(ctx context.Context, req *UploadRequest, out *Handoff)
}

// Deleter is implemented by providers that can delete from their storages.
type Deleter interface {
	StartDelete(ctx context.Context, req *DeleteRequest, out *Handoff)
}

// RefBuilder is implemented by providers that know how to turn a name
// local to a storage into a full ref, e.g. "local://" + name. Storages of
// providers without it use "StorageName:" + name.
type RefBuilder interface {
	FullRef(storage *Storage, localName string) string
}

// Request describes one fetch.
type Request struct {
	ID   string
	Ref  string
	Type string

	// Storages are the candidate storages for Ref, best first. It holds
	// exactly one storage for named and default-storage refs, and every
	// storage bound to the provider for protocol refs.
	Storages []*Storage

	// LocalName is Ref relative to its storage: the path after the
	// storage prefix for named refs, the path after the protocol for
	// protocol refs.
	LocalName string
}

// UploadRequest describes one upload.
type UploadRequest struct {
	ID        string
	Ref       string
	Storage   *Storage
	LocalName string
	Data      []byte
}

// DeleteRequest describes one deletion from a storage.
type DeleteRequest struct {
	ID        string
	Ref       string
	Storage   *Storage
	LocalName string
}

// ResultKind is the outcome of a provider operation.
type ResultKind int

// Provider operation outcomes
const (
	ResultCompleted ResultKind = iota
	ResultFailed
	ResultAborted
)

// Result is one outcome reported by a provider.
type Result struct {
	ID   string
	Kind ResultKind

	// Data holds the fetched bytes of a completed transfer.
	Data []byte

	// DiskSource is the file the data was read from, for providers that
	// read local files. Results without it are written to the disk
	// cache when the cache is open.
	DiskSource string

	// Reason describes a failure.
	Reason string
}

// Handoff is the queue through which providers deliver their results to
// the engine. It's safe for concurrent use by any number of providers;
// the engine drains it from Update.
type Handoff struct {
	mutex   sync.Mutex
	results []Result
}

// Completed reports a successful operation.
func (h *Handoff) Completed(id string, data []byte, diskSource string) {
	h.push(Result{ID: id, Kind: ResultCompleted, Data: data, DiskSource: diskSource})
}

// Failed reports a failed operation.
func (h *Handoff) Failed(id, reason string) {
	h.push(Result{ID: id, Kind: ResultFailed, Reason: reason})
}

// Aborted reports an operation that was stopped before it finished.
func (h *Handoff) Aborted(id string) {
	h.push(Result{ID: id, Kind: ResultAborted})
}

// Len returns the number of undrained results.
func (h *Handoff) Len() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.results)
}

func (h *Handoff) push(r Result) {
	h.mutex.Lock()
	h.results = append(h.results, r)
	h.mutex.Unlock()
}

func (h *Handoff) drain() []Result {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	results := h.results
	h.results = nil
	return results
}
