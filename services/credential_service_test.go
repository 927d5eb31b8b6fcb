package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/tj/assert"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// mockPrimaryStore backs the primary credential db with in-memory state
// so Save/Get round trips and revision carries work like real CouchDB.
type mockPrimaryStore struct {
	docs map[string]*types.ExchangeCredential
	puts int
}

func newMockPrimaryStore() *mockPrimaryStore {
	store := &mockPrimaryStore{docs: map[string]*types.ExchangeCredential{}}

	docURL := fmt.Sprintf(`=~^%s/%s/(.+)$`, testURL, repository.ExchangeCredentials)
	httpmock.RegisterResponder("GET", docURL, func(req *http.Request) (*http.Response, error) {
		docID := httpmock.MustGetSubmatch(req, 1)
		doc, ok := store.docs[docID]
		if !ok {
			return httpmock.NewJsonResponse(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
		}
		return httpmock.NewJsonResponse(200, doc)
	})
	httpmock.RegisterResponder("PUT", docURL, func(req *http.Request) (*http.Response, error) {
		docID := httpmock.MustGetSubmatch(req, 1)
		var cred types.ExchangeCredential
		if err := json.NewDecoder(req.Body).Decode(&cred); err != nil {
			return nil, err
		}
		store.puts++
		cred.UnderscoreRev = fmt.Sprintf("%d-abc", store.puts)
		store.docs[docID] = &cred
		return httpmock.NewJsonResponse(201, types.OK{IsOK: true})
	})
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.ExchangeCredentials),
		func(req *http.Request) (*http.Response, error) {
			var query struct {
				Selector struct {
					KeyVersion struct {
						Eq int `json:"$eq"`
					} `json:"keyVersion"`
				} `json:"selector"`
			}
			if err := json.NewDecoder(req.Body).Decode(&query); err != nil {
				return nil, err
			}
			matched := []*types.ExchangeCredential{}
			for _, doc := range store.docs {
				if doc.KeyVersion == query.Selector.KeyVersion.Eq {
					matched = append(matched, doc)
				}
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{"docs": matched})
		})
	return store
}

func initCredentialService(t *testing.T) (*CredentialService, *mockPrimaryStore) {
	httpmock.Activate()

	ok, _ := httpmock.NewJsonResponder(200, types.OK{IsOK: true})
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", testURL, repository.ExchangeCredentials), ok)

	selector := repository.NewCouchDBSelector()
	db, err := repository.NewCouchDBRepository(testURL, repository.ExchangeCredentials, "test", "test", true)
	if err != nil {
		t.Fatal(err)
	}
	selector.AddDB(db)

	key, err := util.GenerateMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	ring, err := NewKeyRing([]types.MasterKey{{Version: 1, Key: key}})
	if err != nil {
		t.Fatal(err)
	}
	return NewCredentialService(selector, NewVaultService(ring)), newMockPrimaryStore()
}

func kucoinInput() *types.InputCredential {
	return &types.InputCredential{
		ClientID:   "client-1",
		Exchange:   "kucoin",
		APIKey:     "64f0a1e2b3c4d5e6f7a8b9c0",
		Secret:     "super-secret-value",
		Passphrase: "trading-pass",
		Memo:       "desk-a",
	}
}

func TestSaveDecryptRoundTrip(t *testing.T) {
	cs, store := initCredentialService(t)
	defer httpmock.DeactivateAndReset()

	saved, err := cs.Save(kucoinInput(), "")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "client-1:kucoin", saved.UnderscoreID)
	assert.Equal(t, 1, saved.KeyVersion)
	assert.NotEmpty(t, saved.SecretEnc)
	assert.NotEmpty(t, saved.PassphraseEnc)
	assert.NotContains(t, saved.SecretEnc, "super-secret-value")
	assert.Contains(t, saved.Provenance, "operator:")

	stored, err := cs.Get("client-1", "kucoin")
	if err != nil {
		t.Fatal(err)
	}
	decrypted, err := cs.Decrypt(stored)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "super-secret-value", string(decrypted.Secret))
	assert.Equal(t, "trading-pass", string(decrypted.Passphrase))
	assert.Equal(t, 1, store.puts)
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	cs, store := initCredentialService(t)
	defer httpmock.DeactivateAndReset()

	first, err := cs.Save(kucoinInput(), "")
	if err != nil {
		t.Fatal(err)
	}

	rotated := kucoinInput()
	rotated.Secret = "rotated-secret-value"
	second, err := cs.Save(rotated, "")
	if err != nil {
		t.Fatal(err)
	}

	// revision and creation time carry over, everything else is replaced
	assert.Equal(t, first.Created, second.Created)
	assert.Equal(t, 2, store.puts)
	assert.NotEqual(t, first.SecretEnc, second.SecretEnc)

	decrypted, err := cs.Decrypt(store.docs["client-1:kucoin"])
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "rotated-secret-value", string(decrypted.Secret))
}

func TestMaskedNeverExposesSecretMaterial(t *testing.T) {
	cs, _ := initCredentialService(t)
	defer httpmock.DeactivateAndReset()

	saved, err := cs.Save(kucoinInput(), "")
	if err != nil {
		t.Fatal(err)
	}

	masked := cs.Masked(saved)
	assert.Equal(t, "64f0a1e2b3*****8b9c0", masked.APIKeyMasked)
	assert.True(t, masked.HasSecret)
	assert.True(t, masked.HasPassphrase)

	data, _ := json.Marshal(masked)
	assert.NotContains(t, string(data), "super-secret-value")
	assert.NotContains(t, string(data), "trading-pass")
	assert.NotContains(t, string(data), saved.SecretEnc)
}

func TestReencryptThenRetireOldKey(t *testing.T) {
	cs, store := initCredentialService(t)
	defer httpmock.DeactivateAndReset()

	saved, err := cs.Save(kucoinInput(), "")
	if err != nil {
		t.Fatal(err)
	}
	oldSecretEnc := saved.SecretEnc

	// retirement is refused while an envelope still references v1
	assert.Equal(t, types.ErrKeyInUse, cs.RetireKey(1))

	newKey, _ := util.GenerateMasterKey()
	newVersion, err := cs.vault.Rotate(newKey)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, newVersion)

	migrated, err := cs.ReencryptKeyVersion(1)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, migrated)

	doc := store.docs["client-1:kucoin"]
	assert.Equal(t, 2, doc.KeyVersion)
	assert.Equal(t, "migration", doc.Provenance)

	decrypted, err := cs.Decrypt(doc)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "super-secret-value", string(decrypted.Secret))

	// nothing references v1 anymore, retirement goes through
	assert.NoError(t, cs.RetireKey(1))

	// an envelope sealed under the retired key fails closed
	_, err = cs.vault.DecryptEncoded(oldSecretEnc)
	assert.Equal(t, types.ErrDecryption, err)
}
