package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// vdxMagic identifies a video fingerprint sidecar file.
var vdxMagic = [4]byte{'V', 'D', 'X', '1'}

const vdxVersion uint16 = 1

// FrameHash is one per-frame perceptual hash and its frame number within
// the video.
type FrameHash struct {
	Hash    uint64
	FrameNo uint32
}

// VideoMeta is the optional trailing metadata block of a sidecar file.
type VideoMeta struct {
	DurationMS uint32
	FPSMilliHz uint32
	Width      uint32
	Height     uint32
}

// VideoFingerprints is the decoded contents of one video's sidecar file.
type VideoFingerprints struct {
	Frames  []FrameHash
	Meta    VideoMeta
	HasMeta bool
}

// VideoStore manages the per-video-id sidecar files under dir.
type VideoStore struct {
	dir string
}

// NewVideoStore roots sidecar files at dir (typically
// <index-dir>/video/), creating it if absent.
func NewVideoStore(dir string) (*VideoStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("video store: create directory: %w", err)
	}
	return &VideoStore{dir: dir}, nil
}

func (s *VideoStore) pathFor(id MediaID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.vdx", id))
}

// Save writes fp for id, replacing any existing sidecar entirely.
func (s *VideoStore) Save(id MediaID, fp VideoFingerprints) error {
	f, err := os.Create(s.pathFor(id))
	if err != nil {
		return fmt.Errorf("video store: create %d.vdx: %w", id, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(vdxMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, vdxVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(fp.Frames))); err != nil {
		return err
	}
	for _, fr := range fp.Frames {
		if err := binary.Write(w, binary.LittleEndian, fr.Hash); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, fr.FrameNo); err != nil {
			return err
		}
	}
	if fp.HasMeta {
		if err := binary.Write(w, binary.LittleEndian, fp.Meta); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("video store: flush %d.vdx: %w", id, err)
	}
	return nil
}

// Append adds frames to an existing sidecar without replacing it,
// used by incremental import.
func (s *VideoStore) Append(id MediaID, frames []FrameHash) error {
	existing, err := s.Load(id)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	existing.Frames = append(existing.Frames, frames...)
	return s.Save(id, existing)
}

// Load reads the sidecar for id.
func (s *VideoStore) Load(id MediaID) (VideoFingerprints, error) {
	var out VideoFingerprints

	f, err := os.Open(s.pathFor(id))
	if err != nil {
		return out, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return out, fmt.Errorf("video store: read magic %d.vdx: %w", id, err)
	}
	if magic != vdxMagic {
		return out, fmt.Errorf("video store: bad magic in %d.vdx", id)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return out, fmt.Errorf("video store: read version %d.vdx: %w", id, err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return out, fmt.Errorf("video store: read count %d.vdx: %w", id, err)
	}

	out.Frames = make([]FrameHash, count)
	for i := range out.Frames {
		if err := binary.Read(r, binary.LittleEndian, &out.Frames[i].Hash); err != nil {
			return out, fmt.Errorf("video store: read frame hash %d.vdx: %w", id, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &out.Frames[i].FrameNo); err != nil {
			return out, fmt.Errorf("video store: read frame number %d.vdx: %w", id, err)
		}
	}

	var meta VideoMeta
	if err := binary.Read(r, binary.LittleEndian, &meta); err == nil {
		out.Meta = meta
		out.HasMeta = true
	}

	return out, nil
}

// Delete removes the sidecar for id, if present.
func (s *VideoStore) Delete(id MediaID) error {
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("video store: delete %d.vdx: %w", id, err)
	}
	return nil
}

// Exists reports whether a sidecar file is present for id.
func (s *VideoStore) Exists(id MediaID) bool {
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// IDs lists every video id with a sidecar file on disk, used by vacuum to
// find orphans (a sidecar whose record no longer exists in the media
// store).
func (s *VideoStore) IDs() ([]MediaID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("video store: list: %w", err)
	}
	var ids []MediaID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(e.Name(), "%d.vdx", &id); err == nil {
			ids = append(ids, MediaID(id))
		}
	}
	return ids, nil
}
