package language

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedHasTenValidEntries(t *testing.T) {
	seed := Seed()
	require.Len(t, seed, 10)
	require.NoError(t, Validate(seed))
	assert.Equal(t, "es", seed[0].Key)
}

func TestMemoryStoreFindByKey(t *testing.T) {
	store := NewMemoryStore(Seed())

	lang, ok := store.FindByKey("ja")
	require.True(t, ok)
	assert.Equal(t, "ja-JP", lang.RecognitionLocale)
	assert.Equal(t, "ja", lang.SynthesisCode)

	_, ok = store.FindByKey("xx")
	assert.False(t, ok)
}

func TestMemoryStoreListIsCopy(t *testing.T) {
	store := NewMemoryStore(Seed())
	list := store.List()
	list[0].Key = "mutated"

	assert.Equal(t, "es", store.List()[0].Key)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	err := Validate([]Language{
		{Key: "en", RecognitionLocale: "en-US", SynthesisCode: "en"},
		{Key: "en", RecognitionLocale: "en-GB", SynthesisCode: "en"},
	})
	assert.ErrorContains(t, err, "duplicate key")
}

func TestValidateRejectsMissingCodes(t *testing.T) {
	assert.Error(t, Validate([]Language{{Key: "en", SynthesisCode: "en"}}))
	assert.Error(t, Validate([]Language{{Key: "en", RecognitionLocale: "en-US"}}))
	assert.Error(t, Validate(nil))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	doc := `languages:
  - key: en
    name: English
    recognitionLocale: en-GB
    synthesisCode: en
  - key: nl
    name: Nederlands
    recognitionLocale: nl-NL
    synthesisCode: nl
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	items, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "en-GB", items[0].RecognitionLocale)
	assert.Equal(t, "Nederlands", items[1].Name)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
