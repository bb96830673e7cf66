package reinforcement

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const checkpointVersion = 1

// encMode produces deterministic CBOR, so identical parameters always give identical files.
var encMode cbor.EncMode

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("reinforcement: CBOR encoder initialization failed: " + err.Error())
	}
}

type checkpointMeta struct {
	SessionID string `cbor:"session_id"`
	Steps     int    `cbor:"steps"`
}

// Checkpoint is the on-disk snapshot of both networks and their optimizers.
type Checkpoint struct {
	Version   int          `cbor:"version"`
	SessionID string       `cbor:"session_id"`
	Steps     int          `cbor:"steps"`
	SavedAt   int64        `cbor:"saved_at"`
	Actor     NetworkState `cbor:"actor"`
	Critic    NetworkState `cbor:"critic"`
}

// Save writes the snapshot to a temporary file in the same directory, syncs it, and renames it
// over path, so a reader never sees a partial checkpoint.
func (ac *ActorCritic) Save(path string) error {
	data, err := encMode.Marshal(Checkpoint{
		Version:   checkpointVersion,
		SessionID: ac.meta.SessionID,
		Steps:     ac.meta.Steps,
		SavedAt:   time.Now().UnixNano(),
		Actor:     ac.actor.State(),
		Critic:    ac.critic.State(),
	})
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	return writeAtomic(path, data)
}

// Load restores both networks from path. A missing file is not an error and leaves the fresh
// parameters in place.
func (ac *ActorCritic) Load(path string) (bool, error) {
	ckpt, err := ReadCheckpoint(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err = ac.actor.Restore(ckpt.Actor); err != nil {
		return false, fmt.Errorf("restoring actor from %s: %w", path, err)
	}
	if err = ac.critic.Restore(ckpt.Critic); err != nil {
		return false, fmt.Errorf("restoring critic from %s: %w", path, err)
	}
	ac.meta = checkpointMeta{SessionID: ckpt.SessionID, Steps: ckpt.Steps}
	return true, nil
}

// ReadCheckpoint decodes a checkpoint file without applying it.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	ckpt := &Checkpoint{}
	if err = cbor.Unmarshal(data, ckpt); err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	if ckpt.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", path, ckpt.Version)
	}
	return ckpt, nil
}

func writeAtomic(path string, data []byte) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary checkpoint: %w", err)
	}

	// Write, sync, close, in that order; any failure removes the temporary file.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary checkpoint: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary checkpoint: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming checkpoint into place: %w", err)
	}

	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
