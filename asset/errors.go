package asset

import (
	"errors"
	"fmt"
)

// package errors
var (
	ErrNoProviderFound          = errors.New("no asset provider can handle the ref")
	ErrUnknownAssetType         = errors.New("no factory registered for the asset type")
	ErrDuplicateName            = errors.New("an asset with that name already exists")
	ErrInvalidStorageDescriptor = errors.New("invalid asset storage descriptor")
	ErrInvalidRef               = errors.New("invalid asset ref")
	ErrReadOnlyStorage          = errors.New("asset storage is read only")
	ErrNotSupported             = errors.New("operation not supported by the asset provider")
	ErrAborted                  = errors.New("asset transfer aborted")
	ErrIO                       = errors.New("asset i/o failed")
)

// TransferFailedError is reported when fetching or deserializing the
// bytes of an asset failed.
type TransferFailedError struct {
	Ref    string
	Reason string
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer of %s failed: %s", e.Ref, e.Reason)
}

// DependencyFailedError is reported for an asset that could not complete
// because one of its transitive dependencies failed. Root names the
// dependency whose own transfer failed.
type DependencyFailedError struct {
	Ref  string
	Root string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency %s of %s failed", e.Root, e.Ref)
}

// rootOf returns the ref at the origin of a failure reported for ref.
func rootOf(ref string, err error) string {
	var dep *DependencyFailedError
	if errors.As(err, &dep) {
		return dep.Root
	}
	return ref
}
