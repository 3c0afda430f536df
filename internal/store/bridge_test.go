package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korero-labs/agstore/internal/ag"
	"github.com/korero-labs/agstore/internal/store"
)

type fakeSerializer struct {
	d store.SerializerDescriptor
}

func (f fakeSerializer) Descriptor() store.SerializerDescriptor { return f.d }

func TestSerializerRegistry(t *testing.T) {
	s := openStore(t)

	s.RegisterSerializer(fakeSerializer{d: store.SerializerDescriptor{
		Name:     "Praat TextGrid",
		MIMEType: "text/praat-textgrid",
		Suffixes: []string{".TextGrid", ".textgrid"},
	}})
	s.RegisterSerializer(fakeSerializer{d: store.SerializerDescriptor{
		Name:     "Plain Text",
		MIMEType: "text/plain",
		Suffixes: []string{".txt"},
	}})

	descriptors := s.Serializers()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "Praat TextGrid", descriptors[0].Name)

	byMIME := s.SerializerFor("text/plain")
	require.NotNil(t, byMIME)
	assert.Equal(t, "Plain Text", byMIME.Descriptor().Name)

	bySuffix := s.SerializerFor(".textgrid")
	require.NotNil(t, bySuffix)
	assert.Equal(t, "Praat TextGrid", bySuffix.Descriptor().Name)

	assert.Nil(t, s.SerializerFor("application/pdf"))
}

func TestAnnotatorResources(t *testing.T) {
	s := openStore(t, store.WithFilesRoot("/srv/ag"))

	res := s.AnnotatorResourcesFor("tagger")
	assert.Equal(t, filepath.Join("/srv/ag", "annotators", "tagger"), res.WorkingDir)
	assert.Same(t, s, res.Store)

	db, err := res.NewConn(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, db)
}

func TestAnnotationFilePath(t *testing.T) {
	root := t.TempDir()
	s := openStore(t, store.WithFilesRoot(root))
	ctx := context.Background()

	g := saveHello(t, s)
	word := g.First("word")
	require.NotNil(t, word)

	g.AddAnnotation(ag.NewAnnotation("pronounce_audio", "sample", word.StartID, word.EndID, word.ID))
	changed, err := s.SaveTranscript(ctx, editor, g)
	require.NoError(t, err)
	require.True(t, changed)

	loaded, err := s.GetTranscript(ctx, editor, "hello.trs", append(allLayers, "pronounce_audio"))
	require.NoError(t, err)
	audio := loaded.First("pronounce_audio")
	require.NotNil(t, audio)

	path, err := s.AnnotationFilePath(ctx, editor, "hello.trs", audio.ID)
	require.NoError(t, err)
	want := filepath.Join(root, "files", "demo", "greetings", "mp3",
		"hello.trs", "pronounce_audio", audio.ID+".mp3")
	assert.Equal(t, want, path)
}

func TestAnnotationFilePathNonBinaryLayer(t *testing.T) {
	s := openStore(t)
	g := saveHello(t, s)
	word := g.First("word")
	require.NotNil(t, word)

	_, err := s.AnnotationFilePath(context.Background(), editor, "hello.trs", word.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no file payloads")
}

func TestAnnotationFilePathUnknownTranscript(t *testing.T) {
	s := openStore(t)
	saveHello(t, s)

	_, err := s.AnnotationFilePath(context.Background(), editor, "nope.trs", "w_0_1")
	assert.True(t, store.IsGraphNotFound(err))
}

type fakeMediaTool struct {
	polls    int
	startErr error
	toolErr  error
}

func (f *fakeMediaTool) Start(ctx context.Context, op, in, out, mime string) (func() (bool, error), error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	remaining := f.polls
	return func() (bool, error) {
		if f.toolErr != nil {
			return false, f.toolErr
		}
		if remaining > 0 {
			remaining--
			return false, nil
		}
		return true, nil
	}, nil
}

func TestProcessMedia(t *testing.T) {
	s := openStore(t, store.WithMediaTool(&fakeMediaTool{polls: 2}))

	err := s.ProcessMedia(context.Background(), "resample", "in.wav", "out.wav", "audio/wav")
	assert.NoError(t, err)
}

func TestProcessMediaToolFailure(t *testing.T) {
	boom := errors.New("ffmpeg exited 1")
	s := openStore(t, store.WithMediaTool(&fakeMediaTool{toolErr: boom}))

	err := s.ProcessMedia(context.Background(), "convert", "in.wav", "out.mp3", "audio/mpeg")
	require.Error(t, err)
	assert.True(t, store.IsStoreError(err))
	assert.ErrorIs(t, err, boom)
}

func TestProcessMediaUnconfigured(t *testing.T) {
	s := openStore(t)

	err := s.ProcessMedia(context.Background(), "extract", "in.wav", "out.wav", "audio/wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no media tool configured")
}
