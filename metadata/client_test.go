package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchDecodesDocument(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ipfs/bafy-cid", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"name": "Scooter #1",
			"description": "Electric scooter",
			"image": "ipfs://bafy-img",
			"attributes": [{"trait_type": "Color", "value": "Red"}]
		}`))
	}))
	t.Cleanup(gateway.Close)

	client, err := NewClient(gateway.URL)
	require.NoError(t, err)

	doc, err := client.Fetch(context.Background(), "ipfs://bafy-cid")
	require.NoError(t, err)
	require.Equal(t, "Scooter #1", doc.Name)
	require.Equal(t, "ipfs://bafy-img", doc.Image)
	require.Len(t, doc.Attributes, 1)
	require.Equal(t, "Color", doc.Attributes[0].TraitType)
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(gateway.Close)

	client, err := NewClient(gateway.URL)
	require.NoError(t, err)

	_, err = client.Fetch(context.Background(), "bafy-missing")
	require.Error(t, err)
}

func TestFetchRequiresContentRef(t *testing.T) {
	client, err := NewClient("https://ipfs.io")
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), "  ")
	require.Error(t, err)
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	_, err = NewClient("not-a-url")
	require.Error(t, err)
}
