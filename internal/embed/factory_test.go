package embed

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/config"
	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderOllama, ParseProvider("Ollama"))
	assert.Equal(t, ProviderStatic, ParseProvider(" static "))
	assert.Equal(t, ProviderAuto, ParseProvider(""))
	assert.Equal(t, ProviderAuto, ParseProvider("mystery"))
	assert.Equal(t, "auto", ProviderAuto.String())
}

func TestNewEmbedder_Static(t *testing.T) {
	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{Provider: "static", CacheSize: 10})

	require.NoError(t, err)
	assert.IsType(t, &CachedEmbedder{}, e)
	assert.Equal(t, "static", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())
	assert.Equal(t, ProviderStatic, GetInfo(context.Background(), e).Provider)
}

func TestNewEmbedder_ExplicitOllamaDownFails(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{Provider: "ollama", OllamaHost: url})

	require.Error(t, err)
	assert.True(t, serrors.IsBackend(err))
}

func TestNewEmbedder_AutoFallsBackToStatic(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{OllamaHost: url})

	require.NoError(t, err)
	assert.Equal(t, "static", e.ModelName())
}

func TestNewEmbedder_AutoUsesOllama(t *testing.T) {
	f := &fakeOllama{models: []string{"nomic-embed-text"}}
	srv := newFake(t, f)

	e, err := NewEmbedder(context.Background(), config.EmbeddingsConfig{OllamaHost: srv.URL, Model: "nomic-embed-text"})

	require.NoError(t, err)
	info := GetInfo(context.Background(), e)
	assert.Equal(t, ProviderOllama, info.Provider)
	assert.Equal(t, 4, info.Dimensions)
	assert.True(t, info.Available)
}

func TestCheckCompatible(t *testing.T) {
	e := NewStaticEmbedder()

	assert.NoError(t, CheckCompatible(e, "", 0), "fresh index")
	assert.NoError(t, CheckCompatible(e, "static", StaticDimensions))

	err := CheckCompatible(e, "nomic-embed-text", 768)
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeSchemaMismatch, serrors.GetCode(err))

	err = CheckCompatible(e, "static", 768)
	assert.Error(t, err)
}
