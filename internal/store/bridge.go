package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/korero-labs/agstore/internal/ag"
)

// Validator checks a graph's structural invariants before a save. All
// problems are reported; a non-empty result blocks the save.
type Validator interface {
	Validate(g *ag.Graph) []error
}

// Normalizer repairs a graph in place before a save: label normalization,
// ordinal compaction, tag anchor sharing.
type Normalizer interface {
	Normalize(g *ag.Graph)
}

// Censor rewrites labels of censored spans before they are persisted.
type Censor interface {
	Apply(g *ag.Graph)
}

// SerializerDescriptor describes one import/export format.
type SerializerDescriptor struct {
	Name     string
	MIMEType string
	Suffixes []string
	Icon     string
}

// Serializer is a pluggable format codec. The store only lists descriptors;
// conversion happens outside.
type Serializer interface {
	Descriptor() SerializerDescriptor
}

// MediaTool runs an external media operation (censor, convert, resample,
// extract) on explicit input/output paths. Start returns once the tool is
// launched; the returned poll function reports completion and the tool's
// error, wrapped as a StoreError by callers.
type MediaTool interface {
	Start(ctx context.Context, op, inPath, outPath, mimeType string) (poll func() (done bool, err error), err error)
}

// AnnotatorResources is what an annotator plugin may request from the
// store: a working directory, a raw connection factory, and the store
// itself.
type AnnotatorResources struct {
	WorkingDir string
	NewConn    func(ctx context.Context) (*sql.DB, error)
	Store      *Store
}

// RegisterSerializer adds a format codec to the store's registry.
func (s *Store) RegisterSerializer(sz Serializer) {
	s.serializers = append(s.serializers, sz)
}

// Serializers lists the registered format descriptors.
func (s *Store) Serializers() []SerializerDescriptor {
	out := make([]SerializerDescriptor, 0, len(s.serializers))
	for _, sz := range s.serializers {
		out = append(out, sz.Descriptor())
	}
	return out
}

// SerializerFor finds a codec by MIME type or file suffix, or nil.
func (s *Store) SerializerFor(mimeTypeOrSuffix string) Serializer {
	for _, sz := range s.serializers {
		d := sz.Descriptor()
		if d.MIMEType == mimeTypeOrSuffix {
			return sz
		}
		for _, suffix := range d.Suffixes {
			if suffix == mimeTypeOrSuffix {
				return sz
			}
		}
	}
	return nil
}

// AnnotatorResourcesFor supplies the resources an annotator plugin declares
// a need for.
func (s *Store) AnnotatorResourcesFor(name string) AnnotatorResources {
	return AnnotatorResources{
		WorkingDir: filepath.Join(s.filesRoot, "annotators", name),
		NewConn: func(ctx context.Context) (*sql.DB, error) {
			return s.db, nil
		},
		Store: s,
	}
}

// AnnotationFilePath resolves a binary-layer annotation's payload file:
// files/{corpus}/{episode}/{ext}/{transcript}/{layer}/{annotationId}.{ext}
// under the store's files root. The caller needs access to the layer's
// media entity category.
func (s *Store) AnnotationFilePath(ctx context.Context, access AccessContext, transcriptID, annotationID string) (string, error) {
	row, err := s.resolveTranscript(ctx, transcriptID)
	if err != nil {
		return "", err
	}

	la, err := s.fetchAnnotation(ctx, annotationID)
	if err != nil {
		return "", err
	}
	layer := la.layer
	if !layer.Binary() {
		return "", storeErrf("resolve media", "layer %q has no file payloads", layer.ID)
	}

	frag, err := s.accessPredicate(ctx, access, mediaEntity(layer.Type), "t.transcript_id")
	if err != nil {
		return "", err
	}
	if frag.SQL != "" {
		args := append([]any{row.id}, frag.Params...)
		n, err := scanCount(s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transcript t WHERE t.transcript_id = ? AND `+frag.SQL, args...))
		if err != nil {
			return "", storeErr("check access", err)
		}
		if n == 0 {
			return "", &PermissionError{User: access.User, Operation: "read " + layer.ID + " media"}
		}
	}

	ext := mediaExtension(layer.Type)
	return filepath.Join(s.filesRoot, "files", row.corpus, row.familyName, ext,
		row.name, layer.ID, fmt.Sprintf("%s.%s", la.a.ID, ext)), nil
}

// ProcessMedia runs a media tool operation and waits for it to finish,
// polling until done or the context is cancelled. Tool failures come back
// as StoreErrors wrapping the tool's own error.
func (s *Store) ProcessMedia(ctx context.Context, op, inPath, outPath, mimeType string) error {
	if s.mediaTool == nil {
		return storeErrf("process media", "no media tool configured")
	}
	poll, err := s.mediaTool.Start(ctx, op, inPath, outPath, mimeType)
	if err != nil {
		return storeErr("process media", err)
	}
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		done, err := poll()
		if err != nil {
			return storeErr("process media", err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return storeErr("process media", ctx.Err())
		case <-tick.C:
		}
	}
}

// mediaEntity maps a MIME type to its permission entity category.
func mediaEntity(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return EntityAudio
	case strings.HasPrefix(mimeType, "video/"):
		return EntityVideo
	case strings.HasPrefix(mimeType, "image/"):
		return EntityImage
	default:
		return EntityTranscript
	}
}

// mediaExtension derives the file extension from a MIME type.
func mediaExtension(mimeType string) string {
	if i := strings.Index(mimeType, "/"); i >= 0 {
		ext := mimeType[i+1:]
		if ext == "mpeg" && strings.HasPrefix(mimeType, "audio/") {
			return "mp3"
		}
		return ext
	}
	return mimeType
}
