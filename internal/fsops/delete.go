package fsops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Bios-Marcel/wastebasket/v2"
	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// Remover deletes replaced sources.
type Remover struct {
	logger zerolog.Logger
	trash  func(path string) error
}

func NewRemover(logger zerolog.Logger) *Remover {
	return &Remover{
		logger: logger,
		trash:  moveToTrash,
	}
}

// DeleteSource removes src with mode unless it is the same file as final. A
// missing src counts as deleted.
func (r *Remover) DeleteSource(src, final string, mode models.DeleteMode) (bool, error) {
	if SameFile(src, final) {
		r.logger.Debug().Str("source", src).Msg("Source is the committed file, keeping it")
		return false, nil
	}

	if _, err := os.Lstat(src); errors.Is(err, os.ErrNotExist) {
		return true, nil
	}

	var err error
	switch mode {
	case models.DeleteTrash:
		err = r.trash(src)
	case models.DeletePermanent:
		err = os.Remove(src)
	default:
		err = fmt.Errorf("unknown delete mode %q", mode)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("delete source (%s): %w", mode, err)
	}

	r.logger.Info().Str("source", src).Str("mode", string(mode)).Msg("Source deleted")
	return true, nil
}

// SameFile reports whether a and b resolve to one file.
func SameFile(a, b string) bool {
	if Canonical(a) == Canonical(b) {
		return true
	}
	ia, errA := os.Stat(a)
	ib, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(ia, ib)
}

// moveToTrash hands path to the platform trash.
func moveToTrash(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return wastebasket.Trash(abs)
}
