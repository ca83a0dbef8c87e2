package fsops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// maxVersions bounds the "name (N).ext" probe.
const maxVersions = 10000

// Committer places finished temp files at their targets. Check-then-rename is
// serialized so tracks sharing a target cannot race.
type Committer struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewCommitter(logger zerolog.Logger) *Committer {
	return &Committer{logger: logger}
}

// Commit moves temp to target under policy and returns the final path.
// placed is false when policy is skip and the target already existed; the
// caller then owns removing temp.
func (c *Committer) Commit(temp, target string, policy models.CollisionPolicy) (final string, placed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	exists, err := pathExists(target)
	if err != nil {
		return "", false, fmt.Errorf("stat target: %w", err)
	}

	final = target
	if exists {
		switch policy {
		case models.CollisionSkip:
			c.logger.Info().Str("target", target).Msg("Target exists, keeping it")
			return target, false, nil
		case models.CollisionVersion:
			final, err = nextFreeName(target)
			if err != nil {
				return "", false, err
			}
		case models.CollisionOverwrite:
		default:
			return "", false, fmt.Errorf("unknown collision policy %q", policy)
		}
	}

	if err := Rename(temp, final); err != nil {
		return "", false, fmt.Errorf("commit %s: %w", filepath.Base(final), err)
	}
	c.logger.Debug().Str("target", final).Str("policy", string(policy)).Msg("Committed")
	return final, true, nil
}

// VersionedName returns "name (n).ext" for path.
func VersionedName(path string, n int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(path, ext), n, ext)
}

func nextFreeName(target string) (string, error) {
	for n := 2; n < maxVersions; n++ {
		candidate := VersionedName(target, n)
		exists, err := pathExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free versioned name for %s", target)
}

func pathExists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
