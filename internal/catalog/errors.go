package catalog

import (
	"fmt"

	"github.com/catalogd/catalogd/internal/core"
)

// ErrNotFound is returned by DB.GetEvent/GetCatalogue when uuid isn't
// present in the corresponding root container.
type ErrNotFound struct {
	Kind string
	ID   core.ID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no %s found with uuid %s", e.Kind, e.ID)
}

// ErrDeleted is returned by every façade operation (other than identity
// comparison) once its handle's uuid has been tombstoned: every operation
// first verifies the handle's uuid is still present, and absence raises
// a Deleted failure rather than silently no-opping.
type ErrDeleted struct {
	Kind string
	ID   core.ID
}

func (e *ErrDeleted) Error() string {
	return fmt.Sprintf("%s has been deleted", e.Kind)
}
