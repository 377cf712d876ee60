package asset

import (
	"context"
)

// TransferState is the lifecycle state of a Transfer.
type TransferState int

// Transfer states. A transfer moves Queued -> Fetching ->
// WaitingOnDependencies -> Completed, or ends in Failed or Aborted.
const (
	Queued TransferState = iota
	Fetching
	WaitingOnDependencies
	Completed
	Failed
	Aborted
)

func (s TransferState) String() string {
	switch s {
	case Queued:
		return "Queued"
	case Fetching:
		return "Fetching"
	case WaitingOnDependencies:
		return "WaitingOnDependencies"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Aborted:
		return "Aborted"
	}
	return "Unknown"
}

// Terminal reports whether no further transitions happen from s.
func (s TransferState) Terminal() bool {
	return s == Completed || s == Failed || s == Aborted
}

// Transfer tracks the fetch of one asset ref. At most one live Transfer
// exists per ref in an Engine, concurrent requests share it.
//
// Observers are notified from Engine.Update, never before the tick that
// follows the one the transfer reached its terminal state in.
type Transfer struct {
	engine *Engine

	id        string
	ref       string
	key       string
	assetType string
	seq       uint64
	state     TransferState
	err       error

	asset  Asset
	bundle Bundle

	// createdAsset is set when this transfer added asset to the engine,
	// a failure then removes it again.
	createdAsset bool

	data       []byte
	diskSource string
	fromCache  bool

	// writes is the storage write count of the key when the fetch started
	writes uint64

	provider  Provider
	storage   *Storage
	storages  []*Storage
	localName string
	cancel    context.CancelFunc

	// set for sub asset transfers, which read their bytes from a bundle
	bundleRef string
	bundleKey string
	subAsset  string

	loaded    []func(Asset)
	failed    []func(error)
	delivered bool
	done      chan struct{}
}

func newTransfer(e *Engine, id, ref, key, assetType string) *Transfer {
	e.seq++
	return &Transfer{
		engine:    e,
		id:        id,
		ref:       ref,
		key:       key,
		assetType: assetType,
		seq:       e.seq,
		done:      make(chan struct{}),
	}
}

// ID is the unique identifier of the transfer.
func (t *Transfer) ID() string { return t.id }

// Ref is the canonical ref being transferred.
func (t *Transfer) Ref() string { return t.ref }

// Type is the asset or bundle type the bytes are loaded as.
func (t *Transfer) Type() string { return t.assetType }

// State returns the current state.
func (t *Transfer) State() TransferState { return t.state }

// Err is the failure reason of a Failed or Aborted transfer.
func (t *Transfer) Err() error { return t.err }

// Asset is the asset the bytes were loaded into. It's nil until the
// bytes arrived and for bundle transfers.
func (t *Transfer) Asset() Asset { return t.asset }

// Bundle is the loaded bundle of a bundle transfer.
func (t *Transfer) Bundle() Bundle { return t.bundle }

// RawData returns the fetched bytes.
func (t *Transfer) RawData() []byte { return t.data }

// DiskSource is the file the fetched bytes are stored in, if any.
func (t *Transfer) DiskSource() string { return t.diskSource }

// Storage is the storage the transfer was started from, if known.
func (t *Transfer) Storage() *Storage { return t.storage }

// Done is closed once the observers of the transfer have been notified.
func (t *Transfer) Done() <-chan struct{} { return t.done }

// Delivered reports whether the observers have been notified.
func (t *Transfer) Delivered() bool { return t.delivered }

// OnLoaded registers fn to be called with the asset once the transfer
// and all its dependencies have completed. Subscribing to a transfer that
// has already been delivered calls fn right away.
func (t *Transfer) OnLoaded(fn func(Asset)) {
	if t.delivered {
		if t.state == Completed {
			fn(t.asset)
		}
		return
	}
	t.loaded = append(t.loaded, fn)
}

// OnFailed registers fn to be called when the transfer fails or is
// aborted.
func (t *Transfer) OnFailed(fn func(error)) {
	if t.delivered {
		if t.state == Failed || t.state == Aborted {
			fn(t.err)
		}
		return
	}
	t.failed = append(t.failed, fn)
}

// Abort stops a transfer that hasn't received its bytes yet. Transfers
// in any other state are left alone.
func (t *Transfer) Abort() {
	t.engine.abort(t)
}

// deliver notifies the observers exactly once.
func (t *Transfer) deliver() {
	if t.delivered {
		return
	}
	t.delivered = true
	switch t.state {
	case Completed:
		for _, fn := range t.loaded {
			fn(t.asset)
		}
	case Failed, Aborted:
		for _, fn := range t.failed {
			fn(t.err)
		}
	}
	t.loaded = nil
	t.failed = nil
	close(t.done)
}

// Upload tracks one upload of asset bytes to a storage.
type Upload struct {
	id      string
	ref     string
	key     string
	storage *Storage
	state   TransferState
	err     error

	observers []func(error)
	done      chan struct{}
}

// ID is the unique identifier of the upload.
func (u *Upload) ID() string { return u.id }

// Ref is the ref the asset is uploaded as.
func (u *Upload) Ref() string { return u.ref }

// Storage is the destination storage.
func (u *Upload) Storage() *Storage { return u.storage }

// State is Fetching while the upload runs, then Completed or Failed.
func (u *Upload) State() TransferState { return u.state }

// Err is the failure reason.
func (u *Upload) Err() error { return u.err }

// Done is closed when the upload has finished.
func (u *Upload) Done() <-chan struct{} { return u.done }

// OnFinished registers fn to be called with the outcome of the upload,
// nil on success.
func (u *Upload) OnFinished(fn func(error)) {
	if u.state.Terminal() {
		fn(u.err)
		return
	}
	u.observers = append(u.observers, fn)
}

func (u *Upload) finish(state TransferState, err error) {
	u.state = state
	u.err = err
	for _, fn := range u.observers {
		fn(err)
	}
	u.observers = nil
	close(u.done)
}
