package asset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/asset/cache"
	"github.com/devblok/koruasset/assetref"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine.
func WithLogger(l log.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithProvider registers a provider. Providers are consulted in the order
// they are registered.
func WithProvider(p Provider) Option {
	return func(e *Engine) { e.storages.RegisterProvider(p) }
}

// WithPrioritizer sets the dispatch order policy. Transfers are dispatched
// in request order without one.
func WithPrioritizer(p Prioritizer) Option {
	return func(e *Engine) { e.prioritizer = p }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// Engine is the asset engine. It owns the loaded assets, the transfers,
// the dependency graph and the disk cache. Apart from the providers
// reporting through the Handoff, it must only be used from one goroutine.
type Engine struct {
	Events Events

	cfg         Configuration
	log         log.FieldLogger
	clock       Clock
	types       *TypeRegistry
	storages    *StorageRegistry
	graph       *DependencyGraph
	prioritizer Prioritizer
	cache       *cache.Cache
	handoff     *Handoff

	ctx    context.Context
	cancel context.CancelFunc

	assets    map[string]Asset
	bundles   map[string]Bundle
	transfers map[string]*Transfer
	fetching  map[string]*Transfer
	ready     []*Transfer
	seq       uint64

	uploads      map[string]*Upload
	uploadsByKey map[string]int
	deletes      map[string]*pendingDelete
	failures     map[string]*failureRecord

	// writes counts the uploads and deletes completed per key. A fetch
	// started before the count last changed carries stale bytes.
	writes map[string]uint64

	sinceHousekeeping time.Duration
}

// NewEngine creates an engine, adds the configured storages and opens
// the cache when a cache directory is configured.
func NewEngine(cfg Configuration, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:          cfg,
		log:          log.StandardLogger(),
		clock:        systemClock{},
		types:        NewTypeRegistry(),
		storages:     NewStorageRegistry(),
		graph:        NewDependencyGraph(),
		handoff:      &Handoff{},
		assets:       make(map[string]Asset),
		bundles:      make(map[string]Bundle),
		transfers:    make(map[string]*Transfer),
		fetching:     make(map[string]*Transfer),
		uploads:      make(map[string]*Upload),
		uploadsByKey: make(map[string]int),
		deletes:      make(map[string]*pendingDelete),
		failures:     make(map[string]*failureRecord),
		writes:       make(map[string]uint64),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(e)
	}

	for _, descriptor := range cfg.Storages {
		if _, err := e.AddStorage(descriptor, false); err != nil {
			e.cancel()
			return nil, err
		}
	}
	if cfg.DefaultStorage != "" && !e.storages.SetDefault(cfg.DefaultStorage) {
		e.cancel()
		return nil, fmt.Errorf("%w: default storage '%s' not configured", ErrInvalidStorageDescriptor, cfg.DefaultStorage)
	}
	if cfg.CacheDirectory != "" {
		if err := e.OpenCache(cfg.CacheDirectory); err != nil {
			e.cancel()
			return nil, err
		}
	}
	return e, nil
}

// Types returns the asset type registry.
func (e *Engine) Types() *TypeRegistry { return e.types }

// Storages returns the storage registry.
func (e *Engine) Storages() *StorageRegistry { return e.storages }

// Dependencies returns the dependency graph.
func (e *Engine) Dependencies() *DependencyGraph { return e.graph }

// Cache returns the disk cache, nil while it's not open.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Handoff returns the queue providers report their results to.
func (e *Engine) Handoff() *Handoff { return e.handoff }

// Logger returns the logger of the engine.
func (e *Engine) Logger() log.FieldLogger { return e.log }

// AddStorage adds a storage from its descriptor string and announces it
// through Events.AssetStorageAdded.
func (e *Engine) AddStorage(descriptor string, fromNetwork bool) (*Storage, error) {
	s, err := e.storages.AddStorage(descriptor, fromNetwork)
	if err != nil {
		return nil, err
	}
	e.log.WithFields(log.Fields{
		"storage":  s.Name,
		"src":      s.Source,
		"provider": s.Provider.Name(),
	}).Info("asset storage added")
	e.Events.AssetStorageAdded.emit(s)
	return s, nil
}

// RemoveStorage unregisters a storage. Transfers from it run on.
func (e *Engine) RemoveStorage(name string) bool {
	return e.storages.RemoveStorage(name)
}

// OpenCache activates the disk cache in dir. Until it's called fetched
// assets have no disk source.
func (e *Engine) OpenCache(dir string) error {
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			e.log.WithError(err).Warn("failed to close asset cache")
		}
		e.cache = nil
	}
	c, err := cache.Open(dir,
		cache.WithMaxAge(e.cfg.CacheMaxAge),
		cache.WithMaxSize(e.cfg.CacheMaxSize),
		cache.WithClock(e.clock.Now),
		cache.WithLogger(e.log),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	e.cache = c
	e.log.WithField("dir", dir).Info("asset cache opened")
	return nil
}

// Close aborts all unfinished transfers and uploads, notifies their
// observers and closes the cache. The engine must not be used afterwards.
func (e *Engine) Close() error {
	for _, t := range e.sortedTransfers() {
		if !t.state.Terminal() {
			e.finishFailed(t, Aborted, ErrAborted)
		}
	}
	ready := e.ready
	e.ready = nil
	e.deliver(ready)

	for id, u := range e.uploads {
		delete(e.uploads, id)
		u.finish(Aborted, ErrAborted)
	}
	e.uploadsByKey = make(map[string]int)
	e.cancel()
	if e.cache == nil {
		return nil
	}
	err := e.cache.Close()
	e.cache = nil
	return err
}

// ResolveRef interprets ref in the context of the asset named context and
// binds bare relative refs to the default storage.
func (e *Engine) ResolveRef(context, ref string) string {
	r := assetref.Resolve(context, ref)
	p := assetref.Parse(r)
	if p.Type != assetref.RelativePath {
		return r
	}
	s := e.storages.Default()
	if s == nil {
		return r
	}
	full := s.FullRef(p.PathFilename)
	if p.SubAssetName != "" {
		full += assetref.SubAssetSeparator + p.SubAssetName
	}
	return full
}

// ResourceTypeForRef returns the asset type refs like ref load as.
func (e *Engine) ResourceTypeForRef(ref string) string {
	return e.types.TypeForRef(ref)
}

// RequestAsset starts loading ref and returns the transfer tracking it.
// An unfinished transfer for the same ref is shared with the caller.
// Without force, a finished transfer that hasn't been delivered yet is
// shared too and an asset that is already loaded is delivered again on
// the next Update. An empty assetType picks the type from the ref
// extension.
//
// Errors are returned for refs that can't be resolved and for unknown
// types only. Transfer failures are reported through the transfer.
func (e *Engine) RequestAsset(ref, assetType string, force bool) (*Transfer, error) {
	if strings.TrimSpace(ref) == "" || assetref.Parse(ref).Type == assetref.Invalid {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidRef, ref)
	}
	if assetType != "" && !e.knownType(assetType) {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAssetType, assetType)
	}

	full := e.ResolveRef("", ref)
	key := assetref.Key(full)
	if t, ok := e.transfers[key]; ok && (!force || !t.state.Terminal()) {
		return t, nil
	}

	if !force {
		if a, ok := e.assets[key]; ok && a.IsLoaded() {
			t := newTransfer(e, uuid.NewString(), a.Name(), key, a.Type())
			t.asset = a
			t.diskSource = a.DiskSource()
			return e.readyTransfer(t, Completed, nil), nil
		}
		if b, ok := e.bundles[key]; ok && b.IsLoaded() {
			t := newTransfer(e, uuid.NewString(), b.Name(), key, b.Type())
			t.bundle = b
			t.diskSource = b.DiskSource()
			return e.readyTransfer(t, Completed, nil), nil
		}
		if err := e.backedOff(key); err != nil {
			t := newTransfer(e, uuid.NewString(), full, key, assetType)
			return e.readyTransfer(t, Failed, err), nil
		}
	}

	p := assetref.Parse(full)
	if p.SubAssetName != "" {
		return e.requestSubAsset(p, key, assetType)
	}

	res, err := e.storages.resolve(full)
	if err != nil {
		return nil, err
	}
	if assetType == "" {
		assetType = e.typeForRef(full)
	}

	t := newTransfer(e, uuid.NewString(), res.ref, key, assetType)
	t.provider = res.provider
	t.storages = res.storages
	t.localName = res.localName
	if len(res.storages) > 0 {
		t.storage = res.storages[0]
	}
	e.transfers[key] = t
	e.transferLog(t).WithField("type", assetType).Debug("asset transfer queued")
	return t, nil
}

// requestSubAsset queues the transfer of a sub asset and makes sure its
// bundle is loading.
func (e *Engine) requestSubAsset(p assetref.Parsed, key, assetType string) (*Transfer, error) {
	bundleRef := p.FullRefNoSubAsset
	bundleType := e.types.BundleTypeForRef(bundleRef)
	if bundleType == "" {
		return nil, fmt.Errorf("%w: '%s' is not a bundle", ErrUnknownAssetType, bundleRef)
	}
	if !e.isLoaded(assetref.Key(bundleRef)) {
		if _, err := e.RequestAsset(bundleRef, bundleType, false); err != nil {
			return nil, err
		}
	}
	if assetType == "" {
		assetType = e.types.TypeForRef(p.FullRef)
	}

	t := newTransfer(e, uuid.NewString(), p.FullRef, key, assetType)
	t.bundleRef = bundleRef
	t.bundleKey = assetref.Key(bundleRef)
	t.subAsset = p.SubAssetName
	if bt, ok := e.transfers[t.bundleKey]; ok {
		t.storage = bt.storage
	}
	e.transfers[key] = t
	e.transferLog(t).WithField("bundle", bundleRef).Debug("sub asset transfer queued")
	return t, nil
}

// readyTransfer registers t as finished so it's delivered on the next
// Update.
func (e *Engine) readyTransfer(t *Transfer, state TransferState, err error) *Transfer {
	t.state = state
	t.err = err
	e.transfers[t.key] = t
	e.ready = append(e.ready, t)
	return t
}

// Update advances the engine by one tick: queued transfers are
// dispatched, provider results are processed, dependencies are resolved
// and the transfers that finished before this tick are delivered to
// their observers. Finally the disk cache is cleaned up once per
// housekeeping interval.
func (e *Engine) Update(delta time.Duration) {
	ready := e.ready
	e.ready = nil

	e.dispatch()
	e.drainHandoff()
	e.loadSubAssets()
	e.resolveDependencies()
	e.deliver(ready)
	e.housekeeping(delta)
}

// dispatch starts the queued transfers in priority order.
func (e *Engine) dispatch() {
	var queued []*Transfer
	for _, t := range e.sortedTransfers() {
		if t.state == Queued {
			queued = append(queued, t)
		}
	}
	if len(queued) == 0 {
		return
	}
	if e.prioritizer != nil {
		e.prioritizer.Prioritize(queued)
	}

	running := len(e.fetching)
	for _, t := range queued {
		if t.bundleKey != "" {
			t.state = Fetching
			continue
		}
		if e.uploadsByKey[t.key] > 0 {
			continue
		}
		if e.cfg.MaxConcurrentTransfers > 0 && running >= e.cfg.MaxConcurrentTransfers {
			continue
		}
		if e.fetchFromCache(t) {
			continue
		}

		ctx, cancel := context.WithCancel(e.ctx)
		t.cancel = cancel
		t.state = Fetching
		t.writes = e.writes[t.key]
		e.fetching[t.id] = t
		running++
		e.transferLog(t).WithField("provider", t.provider.Name()).Debug("asset transfer started")
		t.provider.StartTransfer(ctx, &Request{
			ID:        t.id,
			Ref:       t.ref,
			Type:      t.assetType,
			Storages:  t.storages,
			LocalName: t.localName,
		}, e.handoff)
	}
}

// fetchFromCache loads t from a fresh cache entry, if there is one.
func (e *Engine) fetchFromCache(t *Transfer) bool {
	if e.cache == nil {
		return false
	}
	path, ok := e.cache.Get(t.ref)
	if !ok {
		return false
	}
	data, err := e.cache.Read(t.ref)
	if err != nil {
		e.transferLog(t).WithError(err).Warn("cached asset unreadable, fetching")
		return false
	}
	t.state = Fetching
	t.fromCache = true
	e.transferLog(t).Debug("asset loaded from cache")
	e.onFetched(t, data, path)
	return true
}

// drainHandoff processes the results reported by providers since the
// last tick.
func (e *Engine) drainHandoff() {
	for _, r := range e.handoff.drain() {
		if t, ok := e.fetching[r.ID]; ok {
			delete(e.fetching, r.ID)
			e.onTransferResult(t, r)
			continue
		}
		if u, ok := e.uploads[r.ID]; ok {
			e.onUploadResult(u, r)
			continue
		}
		if d, ok := e.deletes[r.ID]; ok {
			e.onDeleteResult(d, r)
			continue
		}
		e.log.WithField("transfer", r.ID).Debug("dropped result of unknown transfer")
	}
}

func (e *Engine) onTransferResult(t *Transfer, r Result) {
	if t.state != Fetching {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	if r.Kind != ResultAborted && t.writes != e.writes[t.key] {
		e.transferLog(t).Debug("asset changed on storage while fetching, fetching again")
		e.restart(t)
		return
	}
	switch r.Kind {
	case ResultCompleted:
		e.onFetched(t, r.Data, r.DiskSource)
	case ResultFailed:
		e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: r.Reason})
	default:
		e.finishFailed(t, Aborted, ErrAborted)
	}
}

// onFetched loads the bytes of t into its asset or bundle.
func (e *Engine) onFetched(t *Transfer, data []byte, diskSource string) {
	t.data = data
	if diskSource == "" && e.cache != nil && !t.fromCache && t.bundleKey == "" {
		if path, err := e.cache.Put(t.ref, data); err != nil {
			e.transferLog(t).WithError(err).Warn("failed to cache asset")
		} else {
			diskSource = path
		}
	}
	t.diskSource = diskSource

	if e.types.IsBundleType(t.assetType) {
		e.loadBundle(t)
	} else {
		e.loadAsset(t)
	}
}

func (e *Engine) loadBundle(t *Transfer) {
	b, exists := e.bundles[t.key]
	if !exists {
		f, ok := e.types.BundleFactory(t.assetType)
		if !ok {
			e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: "no factory for bundle type " + t.assetType})
			return
		}
		b = f.New(t.ref)
	}
	if err := b.DeserializeFromBytes(t.data, t.diskSource); err != nil {
		e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: err.Error()})
		return
	}
	t.bundle = b
	if !exists {
		e.bundles[t.key] = b
		t.createdAsset = true
	}
	t.state = WaitingOnDependencies
}

func (e *Engine) loadAsset(t *Transfer) {
	a, exists := e.assets[t.key]
	if !exists {
		f, ok := e.types.Factory(t.assetType)
		if !ok {
			e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: "no factory for asset type " + t.assetType})
			return
		}
		a = f.New(t.ref)
	}

	old := a.DiskSource()
	a.SetDiskSource(t.diskSource)
	deps, err := a.DeserializeFromBytes(t.data)
	if err != nil {
		a.SetDiskSource(old)
		e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: err.Error()})
		return
	}

	t.asset = a
	if !exists {
		e.assets[t.key] = a
		t.createdAsset = true
		e.Events.AssetCreated.emit(a)
	} else if old != t.diskSource {
		e.Events.AssetDiskSourceChanged.emit(DiskSourceChange{Asset: a, Old: old, New: t.diskSource})
	}

	t.state = WaitingOnDependencies
	e.requestAssetDependencies(t, deps)
}

// RequestAssetDependencies requests the dependencies declared by the
// asset of t and records the dependency edges.
func (e *Engine) RequestAssetDependencies(t *Transfer) {
	if t.asset == nil {
		return
	}
	e.requestAssetDependencies(t, t.asset.Dependencies())
}

func (e *Engine) requestAssetDependencies(t *Transfer, deps []string) {
	e.requestDependencies(t.ref, deps, e.transferLog(t))
}

// requestDependencies replaces the dependency edges of dependant with
// deps and requests the ones that are neither loaded nor loading.
func (e *Engine) requestDependencies(dependant string, deps []string, logger log.FieldLogger) {
	e.graph.RemoveDependant(dependant)
	for _, dep := range deps {
		ref := e.ResolveRef(dependant, dep)
		key := assetref.Key(ref)
		if key == "" {
			logger.WithField("dependency", dep).Warn("ignoring invalid dependency ref")
			continue
		}
		if _, live := e.transfers[key]; !live && !e.isLoaded(key) {
			if _, err := e.RequestAsset(ref, "", false); err != nil {
				logger.WithError(err).WithField("dependency", ref).Warn("dependency can't be loaded, excluding it")
				continue
			}
		}
		e.graph.Add(dependant, ref)
	}
}

// loadSubAssets feeds the sub asset transfers whose bundle has loaded.
func (e *Engine) loadSubAssets() {
	for _, t := range e.sortedTransfers() {
		if t.bundleKey == "" || t.state != Fetching {
			continue
		}
		if b, ok := e.bundles[t.bundleKey]; ok && b.IsLoaded() {
			data, err := b.SubAssetData(t.subAsset)
			if err != nil {
				e.failTransfer(t, &TransferFailedError{Ref: t.ref, Reason: err.Error()})
				continue
			}
			t.data = data
			t.diskSource = ""
			e.loadAsset(t)
			continue
		}

		bt, live := e.transfers[t.bundleKey]
		switch {
		case live && (bt.state == Failed || bt.state == Aborted):
			e.failTransfer(t, &DependencyFailedError{Ref: t.ref, Root: rootOf(bt.ref, bt.err)})
		case !live:
			// the bundle was forgotten before it finished
			if _, err := e.RequestAsset(t.bundleRef, e.types.BundleTypeForRef(t.bundleRef), false); err != nil {
				e.failTransfer(t, &DependencyFailedError{Ref: t.ref, Root: t.bundleRef})
			}
		}
	}
}

// resolveDependencies completes the waiting transfers whose transitive
// dependencies have all loaded.
func (e *Engine) resolveDependencies() {
	for _, t := range e.sortedTransfers() {
		if t.state != WaitingOnDependencies {
			continue
		}
		var done []*Transfer
		ok, failed := e.walk(t, make(map[string]bool), make(map[string]bool), &done)
		if failed != nil {
			e.failTransfer(t, &DependencyFailedError{Ref: t.ref, Root: rootOf(failed.ref, failed.err)})
			continue
		}
		if !ok {
			continue
		}
		for _, d := range done {
			if d.state == WaitingOnDependencies {
				e.complete(d)
			}
		}
	}
}

// walk reports whether every transitive dependency of t has loaded, or
// the dependency transfer that failed. Refs on the resolution stack count
// as loaded, which breaks dependency cycles. Waiting transfers found
// complete are appended to done, dependencies before dependants.
func (e *Engine) walk(t *Transfer, stack, visited map[string]bool, done *[]*Transfer) (bool, *Transfer) {
	stack[t.key] = true
	defer delete(stack, t.key)
	visited[t.key] = true

	ok := true
	for _, dep := range e.graph.Dependencies(t.ref) {
		key := assetref.Key(dep)
		if stack[key] {
			continue
		}
		if d, live := e.transfers[key]; live {
			switch d.state {
			case Completed:
			case Failed, Aborted:
				return false, d
			case WaitingOnDependencies:
				if visited[key] {
					continue
				}
				sub, failed := e.walk(d, stack, visited, done)
				if failed != nil {
					return false, failed
				}
				ok = ok && sub
			default:
				ok = false
			}
			continue
		}
		if e.isLoaded(key) {
			continue
		}
		// forgotten while t was waiting
		if _, err := e.RequestAsset(dep, "", false); err != nil {
			e.transferLog(t).WithError(err).WithField("dependency", dep).Warn("dependency can't be loaded, excluding it")
			continue
		}
		ok = false
	}
	if ok {
		*done = append(*done, t)
	}
	return ok, nil
}

func (e *Engine) complete(t *Transfer) {
	t.state = Completed
	delete(e.failures, t.key)
	e.ready = append(e.ready, t)
	e.transferLog(t).Debug("asset transfer completed")
}

// failTransfer moves t to Failed and fails everything waiting on it.
func (e *Engine) failTransfer(t *Transfer, err error) {
	e.finishFailed(t, Failed, err)
}

func (e *Engine) finishFailed(t *Transfer, state TransferState, err error) {
	if t.state.Terminal() {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	delete(e.fetching, t.id)
	t.state = state
	t.err = err
	e.transferLog(t).WithError(err).Warn("asset transfer " + strings.ToLower(state.String()))

	if t.createdAsset {
		if t.asset != nil {
			e.Events.AssetAboutToBeRemoved.emit(t.asset)
			delete(e.assets, t.key)
			t.asset.Unload()
		}
		if t.bundle != nil {
			e.Events.BundleAboutToBeRemoved.emit(t.bundle)
			delete(e.bundles, t.key)
			t.bundle.Unload()
		}
		t.createdAsset = false
	}
	e.graph.RemoveDependant(t.ref)

	var transferErr *TransferFailedError
	if errors.As(err, &transferErr) {
		e.recordFailure(t.key, err)
	}
	e.ready = append(e.ready, t)

	root := rootOf(t.ref, err)
	for _, ref := range e.graph.Dependants(t.ref) {
		if d, ok := e.transfers[assetref.Key(ref)]; ok && d.state == WaitingOnDependencies {
			e.failTransfer(d, &DependencyFailedError{Ref: d.ref, Root: root})
		}
	}
	for _, d := range e.sortedTransfers() {
		if d.bundleKey == t.key && !d.state.Terminal() {
			e.failTransfer(d, &DependencyFailedError{Ref: d.ref, Root: root})
		}
	}
}

// restart puts t back in the queue and drops what it loaded so far.
func (e *Engine) restart(t *Transfer) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	delete(e.fetching, t.id)
	if t.createdAsset {
		if t.asset != nil {
			e.Events.AssetAboutToBeRemoved.emit(t.asset)
			delete(e.assets, t.key)
			t.asset.Unload()
		}
		if t.bundle != nil {
			e.Events.BundleAboutToBeRemoved.emit(t.bundle)
			delete(e.bundles, t.key)
			t.bundle.Unload()
		}
	}
	e.graph.RemoveDependant(t.ref)
	t.state = Queued
	t.asset = nil
	t.bundle = nil
	t.createdAsset = false
	t.data = nil
	t.diskSource = ""
	t.fromCache = false
}

// detach retires t without touching the engine state it left behind.
// Observers are told it was aborted, dependants waiting on it request
// the ref again.
func (e *Engine) detach(t *Transfer) {
	if cur, ok := e.transfers[t.key]; ok && cur == t {
		delete(e.transfers, t.key)
	}
	if t.state.Terminal() {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	delete(e.fetching, t.id)
	t.state = Aborted
	t.err = ErrAborted
	t.createdAsset = false
	e.ready = append(e.ready, t)
	e.transferLog(t).Debug("asset transfer detached")
}

// abort stops t when it hasn't received its bytes yet.
func (e *Engine) abort(t *Transfer) {
	if t.state != Queued && t.state != Fetching {
		return
	}
	e.finishFailed(t, Aborted, ErrAborted)
}

// deliver notifies the observers of the transfers that finished before
// this tick and retires them.
func (e *Engine) deliver(ready []*Transfer) {
	for _, t := range ready {
		if cur, ok := e.transfers[t.key]; ok && cur == t {
			delete(e.transfers, t.key)
		}
		t.deliver()
	}
}

// housekeeping evicts stale cache entries once per interval.
func (e *Engine) housekeeping(delta time.Duration) {
	if e.cache == nil || e.cfg.HousekeepingInterval <= 0 {
		return
	}
	e.sinceHousekeeping += delta
	if e.sinceHousekeeping < e.cfg.HousekeepingInterval {
		return
	}
	e.sinceHousekeeping = 0

	for _, ref := range e.cache.Evict(e.clock.Now()) {
		a, ok := e.assets[assetref.Key(ref)]
		if !ok || a.DiskSource() == "" || !e.isCacheFile(a.DiskSource()) {
			continue
		}
		old := a.DiskSource()
		a.SetDiskSource("")
		e.Events.AssetDiskSourceChanged.emit(DiskSourceChange{Asset: a, Old: old})
	}
}

// PendingTransfers returns the unfinished transfers in request order.
func (e *Engine) PendingTransfers() []*Transfer {
	var pending []*Transfer
	for _, t := range e.sortedTransfers() {
		if !t.state.Terminal() {
			pending = append(pending, t)
		}
	}
	return pending
}

// PendingTransfer returns the live transfer of ref, or nil.
func (e *Engine) PendingTransfer(ref string) *Transfer {
	return e.transfers[assetref.Key(e.ResolveRef("", ref))]
}

// NumCurrentTransfers returns the number of transfers running on
// providers.
func (e *Engine) NumCurrentTransfers() int {
	return len(e.fetching)
}

// NumPendingDependencies returns the number of direct dependencies of a
// that haven't finished loading.
func (e *Engine) NumPendingDependencies(a Asset) int {
	own := assetref.Key(a.Name())
	pending := 0
	for _, dep := range e.graph.Dependencies(a.Name()) {
		key := assetref.Key(dep)
		if key == own {
			continue
		}
		if t, ok := e.transfers[key]; ok && t.state != Completed {
			pending++
			continue
		}
		if !e.isLoaded(key) {
			pending++
		}
	}
	return pending
}

// HasPendingDependencies reports whether a waits on any dependency.
func (e *Engine) HasPendingDependencies(a Asset) bool {
	return e.NumPendingDependencies(a) > 0
}

// RemoveAssetDependencies drops the dependency edges of ref.
func (e *Engine) RemoveAssetDependencies(ref string) {
	e.graph.RemoveDependant(e.ResolveRef("", ref))
}

// FindDependents returns the loaded assets that depend on ref.
func (e *Engine) FindDependents(ref string) []Asset {
	var dependents []Asset
	for _, d := range e.graph.Dependants(e.ResolveRef("", ref)) {
		if a, ok := e.assets[assetref.Key(d)]; ok {
			dependents = append(dependents, a)
		}
	}
	return dependents
}

func (e *Engine) knownType(assetType string) bool {
	if _, ok := e.types.Factory(assetType); ok {
		return true
	}
	return e.types.IsBundleType(assetType)
}

func (e *Engine) typeForRef(ref string) string {
	if t := e.types.BundleTypeForRef(ref); t != "" && assetref.Parse(ref).SubAssetName == "" {
		return t
	}
	return e.types.TypeForRef(ref)
}

func (e *Engine) isLoaded(key string) bool {
	if a, ok := e.assets[key]; ok && a.IsLoaded() {
		return true
	}
	b, ok := e.bundles[key]
	return ok && b.IsLoaded()
}

func (e *Engine) sortedTransfers() []*Transfer {
	transfers := make([]*Transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		transfers = append(transfers, t)
	}
	sort.Slice(transfers, func(i, j int) bool { return transfers[i].seq < transfers[j].seq })
	return transfers
}

func (e *Engine) transferLog(t *Transfer) log.FieldLogger {
	fields := log.Fields{"ref": t.ref, "transfer": t.id}
	if t.storage != nil {
		fields["storage"] = t.storage.Name
	}
	return e.log.WithFields(fields)
}
