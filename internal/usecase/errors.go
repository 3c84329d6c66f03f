package usecase

import (
	"errors"
	"fmt"
)

// ErrEngine marks failures of the download engine itself, as opposed to a
// missing piece or missing metadata.
var ErrEngine = errors.New("engine error")

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrEngine, err)
}
