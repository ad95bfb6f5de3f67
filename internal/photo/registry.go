package photo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/NolanFox/rhodesli/internal/database"
)

// Registry is the bidirectional photo↔face index.
//
// Mutations are applied in memory; Save persists the complete snapshot.
// Readers may run alongside a writer.
type Registry struct {
	mu sync.RWMutex

	backend     database.SnapshotBackend
	logger      *zap.Logger
	photos      map[string]*entry
	faceToPhoto map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry persisting through backend.
func NewRegistry(backend database.SnapshotBackend, opts ...Option) *Registry {
	r := &Registry{
		backend:     backend,
		logger:      zap.NewNop(),
		photos:      make(map[string]*entry),
		faceToPhoto: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFace records that faceID was detected in photoID. Idempotent: the
// photo is created on its first face and face IDs accumulate. Source and
// collection are only set when the photo is created or when they are empty.
func (r *Registry) RegisterFace(photoID, path, faceID, source, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if photoID == "" || faceID == "" {
		return ErrInvalidInput
	}
	if owner, ok := r.faceToPhoto[faceID]; ok && owner != photoID {
		return fmt.Errorf("face %s in photo %s: %w (%s)", faceID, photoID, ErrFaceInOtherPhoto, owner)
	}

	e, ok := r.photos[photoID]
	if !ok {
		e = &entry{
			Photo: Photo{ID: photoID, Path: path, Source: source, Collection: collection},
			faces: make(map[string]struct{}),
		}
		r.photos[photoID] = e
		r.logger.Debug("photo registered", zap.String("photo_id", photoID), zap.String("path", path))
	}
	if e.Path == "" {
		e.Path = path
	}
	if e.Source == "" {
		e.Source = source
	}
	if e.Collection == "" {
		e.Collection = collection
	}

	e.faces[faceID] = struct{}{}
	r.faceToPhoto[faceID] = photoID
	return nil
}

// FacesInPhoto returns the sorted face IDs of a photo, nil if the photo is unknown.
func (r *Registry) FacesInPhoto(photoID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.photos[photoID]
	if !ok {
		return nil
	}
	return sortedKeys(e.faces)
}

// PhotoForFace returns the photo a face was detected in.
func (r *Registry) PhotoForFace(faceID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.faceToPhoto[faceID]
	return id, ok
}

// PhotosForFaces returns the sorted union of photos touched by faceIDs.
// Unknown faces are ignored.
func (r *Registry) PhotosForFaces(faceIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[string]struct{})
	for _, f := range faceIDs {
		if id, ok := r.faceToPhoto[f]; ok {
			set[id] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// Photo returns a copy of a photo.
func (r *Registry) Photo(photoID string) (Photo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.photos[photoID]
	if !ok {
		return Photo{}, false
	}
	return e.snapshot(), true
}

// PhotoIDs returns all photo IDs, sorted.
func (r *Registry) PhotoIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.photos))
	for id := range r.photos {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of photos.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.photos)
}

// FaceCount returns the number of registered faces.
func (r *Registry) FaceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faceToPhoto)
}

// SetMetadata applies allow-listed metadata to a photo. Unknown keys are
// dropped silently. Returns the number of applied keys and false if the photo
// is unknown.
func (r *Registry) SetMetadata(photoID string, meta map[string]string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.photos[photoID]
	if !ok {
		return 0, false
	}

	applied := 0
	for key, value := range meta {
		var field *string
		switch key {
		case MetaSourceURL:
			field = &e.SourceURL
		case MetaDateTaken:
			field = &e.DateTaken
		case MetaLocation:
			field = &e.Location
		case MetaCaption:
			field = &e.Caption
		case MetaDonor:
			field = &e.Donor
		case MetaPhotographer:
			field = &e.Photographer
		case MetaSource:
			field = &e.Source
		case MetaCollection:
			field = &e.Collection
		default:
			r.logger.Debug("dropping unknown photo metadata key",
				zap.String("photo_id", photoID), zap.String("key", key))
			continue
		}
		*field = value
		applied++
	}
	return applied, true
}

// SetDimensions records the pixel size of a photo.
func (r *Registry) SetDimensions(photoID string, width, height int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.photos[photoID]
	if !ok || width < 0 || height < 0 {
		return false
	}
	e.Width, e.Height = width, height
	return true
}

// SetSource records where a photo was obtained and the collection it belongs to.
func (r *Registry) SetSource(photoID, source, collection string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.photos[photoID]
	if !ok {
		return false
	}
	e.Source, e.Collection = source, collection
	return true
}

// SetSourceURL records the original location of a photo.
func (r *Registry) SetSourceURL(photoID, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.photos[photoID]
	if !ok {
		return false
	}
	e.SourceURL = url
	return true
}

// Load replaces the registry contents with the persisted snapshot. Corrupt
// snapshots are returned as *database.SnapshotError; a missing snapshot as
// database.ErrSnapshotNotFound. The registry is left untouched on error.
func (r *Registry) Load(ctx context.Context) error {
	data, err := r.backend.ReadSnapshot(ctx, database.SnapshotPhotoIndex)
	if err != nil {
		return fmt.Errorf("load photo index: %w", err)
	}

	photos, faceToPhoto, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.photos = photos
	r.faceToPhoto = faceToPhoto
	r.mu.Unlock()
	r.logger.Info("photo index loaded", zap.Int("photos", len(photos)), zap.Int("faces", len(faceToPhoto)))
	return nil
}

// Save validates and persists the complete snapshot.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.RLock()
	data, err := encodeSnapshot(r.photos, r.faceToPhoto)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := r.backend.WriteSnapshot(ctx, database.SnapshotPhotoIndex, data); err != nil {
		return fmt.Errorf("save photo index: %w", err)
	}
	return nil
}

// LoadOrEmpty loads the snapshot, starting empty when none has been written yet.
func (r *Registry) LoadOrEmpty(ctx context.Context) error {
	err := r.Load(ctx)
	if errors.Is(err, database.ErrSnapshotNotFound) {
		r.logger.Info("no photo index snapshot found, starting empty")
		return nil
	}
	return err
}
