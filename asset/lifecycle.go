package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/devblok/koruasset/assetref"
)

// FindAsset returns the asset named ref, or nil.
func (e *Engine) FindAsset(ref string) Asset {
	return e.assets[assetref.Key(e.ResolveRef("", ref))]
}

// FindBundle returns the bundle named ref, or nil.
func (e *Engine) FindBundle(ref string) Bundle {
	return e.bundles[assetref.Key(e.ResolveRef("", ref))]
}

// Assets returns all assets sorted by name.
func (e *Engine) Assets() []Asset {
	assets := make([]Asset, 0, len(e.assets))
	for _, a := range e.assets {
		assets = append(assets, a)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name() < assets[j].Name() })
	return assets
}

// AssetsOfType returns the assets of one type sorted by name.
func (e *Engine) AssetsOfType(assetType string) []Asset {
	var assets []Asset
	for _, a := range e.Assets() {
		if strings.EqualFold(a.Type(), assetType) {
			assets = append(assets, a)
		}
	}
	return assets
}

// Bundles returns all bundles sorted by name.
func (e *Engine) Bundles() []Bundle {
	bundles := make([]Bundle, 0, len(e.bundles))
	for _, b := range e.bundles {
		bundles = append(bundles, b)
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Name() < bundles[j].Name() })
	return bundles
}

// CreateNewAsset creates an empty, unloaded asset of the given type.
func (e *Engine) CreateNewAsset(assetType, name string) (Asset, error) {
	f, ok := e.types.Factory(assetType)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAssetType, assetType)
	}
	if assetref.Parse(name).Type == assetref.Invalid {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidRef, name)
	}
	full := e.ResolveRef("", name)
	key := assetref.Key(full)
	if _, exists := e.assets[key]; exists {
		return nil, fmt.Errorf("%w: '%s'", ErrDuplicateName, full)
	}

	a := f.New(full)
	e.assets[key] = a
	e.Events.AssetCreated.emit(a)
	return a, nil
}

// CreateNewAssetBundle creates an empty, unloaded bundle of the given
// type.
func (e *Engine) CreateNewAssetBundle(bundleType, name string) (Bundle, error) {
	f, ok := e.types.BundleFactory(bundleType)
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrUnknownAssetType, bundleType)
	}
	if assetref.Parse(name).Type == assetref.Invalid {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidRef, name)
	}
	full := e.ResolveRef("", name)
	key := assetref.Key(full)
	if _, exists := e.bundles[key]; exists {
		return nil, fmt.Errorf("%w: '%s'", ErrDuplicateName, full)
	}

	b := f.New(full)
	e.bundles[key] = b
	return b, nil
}

// CreateAssetFromFile creates an asset named after filename and loads it
// from the file, which becomes its disk source. Its dependencies are
// requested like those of a fetched asset. An empty assetType picks the
// type from the file extension.
func (e *Engine) CreateAssetFromFile(assetType, filename string) (Asset, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if assetType == "" {
		assetType = e.types.TypeForRef(filename)
	}
	a, err := e.CreateNewAsset(assetType, filename)
	if err != nil {
		return nil, err
	}
	a.SetDiskSource(filename)
	deps, err := a.DeserializeFromBytes(data)
	if err != nil {
		e.ForgetAsset(a.Name(), false)
		return nil, &TransferFailedError{Ref: a.Name(), Reason: err.Error()}
	}
	e.requestDependencies(a.Name(), deps, e.log.WithField("ref", a.Name()))
	return a, nil
}

// HandleAssetDiscovery is called when a storage reports that ref exists
// or has changed. Unknown assets are created empty, loaded assets from
// live update storages are fetched again.
func (e *Engine) HandleAssetDiscovery(ref, assetType string) error {
	full := e.ResolveRef("", ref)
	if assetType == "" {
		assetType = e.typeForRef(full)
	}
	a := e.FindAsset(full)
	if a == nil {
		if e.types.IsBundleType(assetType) {
			return nil
		}
		_, err := e.CreateNewAsset(assetType, full)
		return err
	}
	if !a.IsLoaded() {
		return nil
	}
	if s := e.storages.StorageFor(full); s != nil && s.LiveUpdate {
		_, err := e.RequestAsset(full, a.Type(), true)
		return err
	}
	return nil
}

// ForgetAsset removes the asset named ref. Observers of
// Events.AssetAboutToBeRemoved see it before it's removed. Assets that
// depend on it are left alone. An unfinished transfer of the asset is
// aborted, so the next request starts a new one. When removeDiskSource
// is set the file backing the asset is deleted as well. Returns false
// when there is no such asset.
func (e *Engine) ForgetAsset(ref string, removeDiskSource bool) bool {
	key := assetref.Key(e.ResolveRef("", ref))
	a, ok := e.assets[key]
	if !ok {
		return false
	}

	e.dropAsset(key, a, removeDiskSource)
	if t, ok := e.transfers[key]; ok {
		e.detach(t)
	}
	return true
}

func (e *Engine) dropAsset(key string, a Asset, removeDiskSource bool) {
	e.Events.AssetAboutToBeRemoved.emit(a)
	if removeDiskSource && a.DiskSource() != "" {
		e.Events.DiskSourceAboutToBeRemoved.emit(a)
		e.removeDiskSource(a.Name(), a.DiskSource())
	}
	e.graph.RemoveDependant(a.Name())
	delete(e.assets, key)
	a.Unload()
	e.log.WithField("ref", a.Name()).Debug("asset forgotten")
}

// ForgetBundle removes the bundle named ref. Sub assets already loaded
// from it are not affected.
func (e *Engine) ForgetBundle(ref string, removeDiskSource bool) bool {
	key := assetref.Key(e.ResolveRef("", ref))
	b, ok := e.bundles[key]
	if !ok {
		return false
	}

	e.Events.BundleAboutToBeRemoved.emit(b)
	if removeDiskSource && b.DiskSource() != "" {
		e.removeDiskSource(b.Name(), b.DiskSource())
	}
	delete(e.bundles, key)
	b.Unload()

	if t, ok := e.transfers[key]; ok {
		e.detach(t)
	}
	return true
}

// ForgetAllAssets removes every asset and bundle.
func (e *Engine) ForgetAllAssets() {
	for _, a := range e.Assets() {
		e.ForgetAsset(a.Name(), false)
	}
	for _, b := range e.Bundles() {
		e.ForgetBundle(b.Name(), false)
	}
}

func (e *Engine) removeDiskSource(ref, path string) {
	if e.isCacheFile(path) {
		e.cache.Remove(ref)
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.log.WithError(err).WithField("ref", ref).Warn("failed to remove asset disk source")
	}
}

func (e *Engine) isCacheFile(path string) bool {
	return e.cache != nil && filepath.Dir(filepath.Clean(path)) == filepath.Clean(e.cache.Dir())
}

// UploadAssetFromFile uploads the contents of filename to the named
// storage as uploadName. An empty storage name picks the default storage
// and an empty upload name the base name of the file.
func (e *Engine) UploadAssetFromFile(filename, storageName, uploadName string) (*Upload, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if uploadName == "" {
		uploadName = filepath.Base(filename)
	}
	return e.UploadAssetFromFileInMemory(data, storageName, uploadName)
}

// UploadAssetFromFileInMemory uploads data to the named storage as
// uploadName. Once the upload completes, the asset and cache entry of
// that name are dropped so the next request fetches the new bytes.
// Requests for the name made while the upload runs wait for it.
func (e *Engine) UploadAssetFromFileInMemory(data []byte, storageName, uploadName string) (*Upload, error) {
	s := e.storages.Default()
	if storageName != "" {
		s = e.storages.StorageByName(storageName)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no storage '%s'", ErrNoProviderFound, storageName)
	}
	if s.ReadOnly {
		return nil, fmt.Errorf("%w: '%s'", ErrReadOnlyStorage, s.Name)
	}
	uploader, ok := s.Provider.(Uploader)
	if !ok {
		return nil, fmt.Errorf("%w: %s can't upload", ErrNotSupported, s.Provider.Name())
	}
	p := assetref.Parse(uploadName)
	if p.Type != assetref.RelativePath || p.SubAssetName != "" {
		return nil, fmt.Errorf("%w: upload name '%s'", ErrInvalidRef, uploadName)
	}

	ref := s.FullRef(p.PathFilename)
	u := &Upload{
		id:      uuid.NewString(),
		ref:     ref,
		key:     assetref.Key(ref),
		storage: s,
		state:   Fetching,
		done:    make(chan struct{}),
	}
	e.uploads[u.id] = u
	e.uploadsByKey[u.key]++
	e.log.WithFields(log.Fields{"ref": ref, "storage": s.Name, "size": len(data)}).Info("asset upload started")
	uploader.StartUpload(e.ctx, &UploadRequest{
		ID:        u.id,
		Ref:       ref,
		Storage:   s,
		LocalName: p.PathFilename,
		Data:      data,
	}, e.handoff)
	return u, nil
}

func (e *Engine) onUploadResult(u *Upload, r Result) {
	delete(e.uploads, u.id)
	if e.uploadsByKey[u.key]--; e.uploadsByKey[u.key] <= 0 {
		delete(e.uploadsByKey, u.key)
	}

	if r.Kind != ResultCompleted {
		reason := r.Reason
		if r.Kind == ResultAborted {
			reason = "aborted"
		}
		e.log.WithFields(log.Fields{"ref": u.ref, "reason": reason}).Warn("asset upload failed")
		u.finish(Failed, &TransferFailedError{Ref: u.ref, Reason: reason})
		return
	}

	e.writes[u.key]++
	if e.cache != nil {
		e.cache.Remove(u.ref)
	}
	// fetches already running are restarted when their result arrives
	if t, ok := e.transfers[u.key]; ok {
		switch {
		case t.state.Terminal():
			delete(e.transfers, u.key)
		case t.state == WaitingOnDependencies:
			e.restart(t)
		}
	}
	if a, ok := e.assets[u.key]; ok {
		e.dropAsset(u.key, a, false)
	}
	e.log.WithField("ref", u.ref).Info("asset uploaded")
	e.Events.AssetUploaded.emit(u.ref)
	u.finish(Completed, nil)
}

// pendingDelete remembers what DeleteAssetFromStorage dropped locally, to
// restore it when the storage refuses the delete.
type pendingDelete struct {
	id        string
	ref       string
	assetType string
	wasLoaded bool
	cached    []byte
}

// DeleteAssetFromStorage asks the storage holding ref to delete it. The
// local asset and its cache entry are dropped right away and restored if
// the storage fails to delete it. Events.AssetDeletedFromStorage is
// emitted once the storage confirms.
func (e *Engine) DeleteAssetFromStorage(ref string) error {
	full := e.ResolveRef("", ref)
	res, err := e.storages.resolve(full)
	if err != nil {
		return err
	}
	s := e.storages.StorageFor(full)
	if s == nil && len(res.storages) > 0 {
		s = res.storages[0]
	}
	if s == nil {
		return fmt.Errorf("%w: no storage holds '%s'", ErrNoProviderFound, full)
	}
	if s.ReadOnly {
		return fmt.Errorf("%w: '%s'", ErrReadOnlyStorage, s.Name)
	}
	deleter, ok := res.provider.(Deleter)
	if !ok {
		return fmt.Errorf("%w: %s can't delete", ErrNotSupported, res.provider.Name())
	}
	localName := res.localName
	if name, ok := s.localName(full); ok {
		localName = name
	}

	d := &pendingDelete{id: uuid.NewString(), ref: res.ref}
	if a := e.FindAsset(res.ref); a != nil {
		d.assetType = a.Type()
		d.wasLoaded = a.IsLoaded()
	}
	if e.cache != nil {
		if data, err := e.cache.Read(res.ref); err == nil {
			d.cached = data
		}
		e.cache.Remove(res.ref)
	}
	e.ForgetAsset(res.ref, false)

	e.deletes[d.id] = d
	e.log.WithFields(log.Fields{"ref": res.ref, "storage": s.Name}).Info("asset delete requested")
	deleter.StartDelete(e.ctx, &DeleteRequest{
		ID:        d.id,
		Ref:       res.ref,
		Storage:   s,
		LocalName: localName,
	}, e.handoff)
	return nil
}

func (e *Engine) onDeleteResult(d *pendingDelete, r Result) {
	delete(e.deletes, d.id)
	if r.Kind == ResultCompleted {
		e.writes[assetref.Key(d.ref)]++
		e.log.WithField("ref", d.ref).Info("asset deleted from storage")
		e.Events.AssetDeletedFromStorage.emit(d.ref)
		return
	}

	e.log.WithFields(log.Fields{"ref": d.ref, "reason": r.Reason}).Warn("asset delete failed, restoring")
	if d.cached != nil && e.cache != nil {
		if _, err := e.cache.Put(d.ref, d.cached); err != nil {
			e.log.WithError(err).WithField("ref", d.ref).Warn("failed to restore cache entry")
		}
	}
	if d.wasLoaded {
		if _, err := e.RequestAsset(d.ref, d.assetType, false); err != nil {
			e.log.WithError(err).WithField("ref", d.ref).Warn("failed to reload asset")
		}
	}
}

// HandleAssetDeleted is called when a storage reports that ref no longer
// exists. The asset and its cache entry are dropped and
// Events.AssetDeletedFromStorage is emitted.
func (e *Engine) HandleAssetDeleted(ref string) {
	full := e.ResolveRef("", ref)
	key := assetref.Key(full)
	e.writes[key]++
	if e.cache != nil {
		e.cache.Remove(full)
	}
	e.ForgetAsset(full, false)
	e.log.WithField("ref", full).Info("asset deleted from storage")
	e.Events.AssetDeletedFromStorage.emit(full)
}

// AssetChange is the kind of change a storage reports for one of its
// files.
type AssetChange int

// Changes reported to HandleAssetChanged.
const (
	ChangeAdded AssetChange = iota
	ChangeModified
	ChangeRemoved
)

func (c AssetChange) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

// HandleAssetChanged is called by storages watching their contents.
// Added files are discovered, removed ones forgotten. Modified files are
// fetched again when the asset is loaded and the storage is live
// updated.
func (e *Engine) HandleAssetChanged(s *Storage, localName string, change AssetChange) error {
	ref := s.FullRef(localName)
	e.log.WithFields(log.Fields{"ref": ref, "storage": s.Name, "change": change}).Debug("asset changed on storage")
	switch change {
	case ChangeAdded:
		return e.HandleAssetDiscovery(ref, "")
	case ChangeModified:
		if !s.LiveUpdate {
			return nil
		}
		if a := e.FindAsset(ref); a != nil && a.IsLoaded() {
			_, err := e.RequestAsset(ref, a.Type(), true)
			return err
		}
		return nil
	case ChangeRemoved:
		e.HandleAssetDeleted(ref)
		return nil
	}
	return fmt.Errorf("%w: asset change %d", ErrNotSupported, int(change))
}
