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
)

var testURL = "http://localhost:5990"

func findResponse(docs ...interface{}) httpmock.Responder {
	if docs == nil {
		// a nil slice marshals to JSON null; CouchDB always returns an array
		docs = []interface{}{}
	}
	return httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"docs": docs})
}

func emptyFind() httpmock.Responder {
	return findResponse()
}

// initResolver builds a resolver over mocked CouchDB stores. Callers
// register per-test responders for document reads and _find queries.
func initResolver(t *testing.T) *ResolverService {
	httpmock.Activate()

	ok, _ := httpmock.NewJsonResponder(200, types.OK{IsOK: true})
	for _, dbName := range []string{repository.ExchangeCredentials, repository.Connectors, repository.TradingKeys, repository.BotWallets} {
		httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", testURL, dbName), ok)
	}

	selector := repository.NewCouchDBSelector()
	for _, dbName := range []string{repository.ExchangeCredentials, repository.Connectors, repository.TradingKeys, repository.BotWallets} {
		db, err := repository.NewCouchDBRepository(testURL, dbName, "test", "test", true)
		if err != nil {
			t.Fatal(err)
		}
		selector.AddDB(db)
	}
	return NewResolverService(selector)
}

func registerEmptyStores(primaryStatus int) {
	if primaryStatus == 404 {
		notFound, _ := httpmock.NewJsonResponder(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
		httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials), notFound)
	}
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.Connectors), emptyFind())
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.TradingKeys), emptyFind())
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.BotWallets), emptyFind())
}

func walletPresent() {
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.BotWallets),
		findResponse(types.BotWallet{ClientID: "client-1", Exchange: "coinstore", BotID: "bot-9"}))
}

func TestResolveMissing(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(404)

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionMissing, res.State)
	assert.Nil(t, res.Chosen)
}

func TestResolveResolved(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(0)
	walletPresent()

	doc, _ := httpmock.NewJsonResponder(200, types.ExchangeCredential{
		UnderscoreID: "client-1:coinstore",
		ClientID:     "client-1",
		Exchange:     "coinstore",
		APIKey:       "ak-primary",
		SecretEnc:    "c2VhbGVk",
		Updated:      100,
	})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials), doc)

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionResolved, res.State)
	assert.Equal(t, repository.ExchangeCredentials, res.Chosen.Store)
	assert.Empty(t, res.Others)
}

func TestResolveDriftPicksMostRecentlyUpdated(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(0)
	walletPresent()

	primary, _ := httpmock.NewJsonResponder(200, types.ExchangeCredential{
		UnderscoreID: "client-1:coinstore",
		ClientID:     "client-1",
		Exchange:     "coinstore",
		APIKey:       "ak-old",
		SecretEnc:    "c2VhbGVk",
		Updated:      100,
	})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials), primary)

	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.Connectors),
		findResponse(types.ExchangeCredential{
			UnderscoreID: "conn-42",
			ClientID:     "client-1",
			Exchange:     "coinstore",
			APIKey:       "ak-new",
			SecretEnc:    "c2VhbGVk",
			Updated:      200,
		}))

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionDrift, res.State)
	assert.Equal(t, "ak-new", res.Chosen.APIKey)
	assert.Equal(t, repository.Connectors, res.Chosen.Store)
	assert.Len(t, res.Others, 1)
	assert.Equal(t, "ak-old", res.Others[0].APIKey)
}

func TestResolveDriftTieBreaksOnStorePriority(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(0)
	walletPresent()

	primary, _ := httpmock.NewJsonResponder(200, types.ExchangeCredential{
		UnderscoreID: "client-1:coinstore",
		ClientID:     "client-1",
		Exchange:     "coinstore",
		APIKey:       "ak-primary",
		SecretEnc:    "c2VhbGVk",
		Updated:      100,
	})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials), primary)

	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.TradingKeys),
		findResponse(types.ExchangeCredential{
			UnderscoreID: "tk-7",
			ClientID:     "client-1",
			Exchange:     "coinstore",
			APIKey:       "ak-legacy",
			SecretEnc:    "c2VhbGVk",
			Updated:      100,
		}))

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionDrift, res.State)
	// equal timestamps: the primary store wins
	assert.Equal(t, "ak-primary", res.Chosen.APIKey)
}

func TestResolveInconsistentWalletWithoutCredential(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(404)
	walletPresent()

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionInconsistent, res.State)
	assert.Nil(t, res.Chosen)
	assert.Contains(t, res.Reason, "no credential")
}

func TestResolveInconsistentOrphanedCredential(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(0)

	doc, _ := httpmock.NewJsonResponder(200, types.ExchangeCredential{
		UnderscoreID: "client-1:coinstore",
		ClientID:     "client-1",
		Exchange:     "coinstore",
		APIKey:       "ak-orphan",
		SecretEnc:    "c2VhbGVk",
		Updated:      100,
	})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials), doc)

	res, err := rs.Resolve("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.ResolutionInconsistent, res.State)
	assert.NotNil(t, res.Chosen)
	assert.Contains(t, res.Reason, "orphaned")
}

func TestReconcileIdempotent(t *testing.T) {
	rs := initResolver(t)
	defer httpmock.DeactivateAndReset()
	registerEmptyStores(0)
	walletPresent()

	// legacy connector store holds the only candidate
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", testURL, repository.Connectors),
		findResponse(types.ExchangeCredential{
			UnderscoreID: "conn-42",
			ClientID:     "client-1",
			Exchange:     "coinstore",
			APIKey:       "ak-conn",
			SecretEnc:    "c2VhbGVk",
			Updated:      200,
		}))

	// stateful primary store: empty until reconcile writes into it
	var stored *types.ExchangeCredential
	putCount := 0
	primaryDocURL := fmt.Sprintf("%s/%s/client-1:coinstore", testURL, repository.ExchangeCredentials)
	httpmock.RegisterResponder("GET", primaryDocURL, func(req *http.Request) (*http.Response, error) {
		if stored == nil {
			return httpmock.NewJsonResponse(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
		}
		return httpmock.NewJsonResponse(200, stored)
	})
	httpmock.RegisterResponder("PUT", primaryDocURL, func(req *http.Request) (*http.Response, error) {
		putCount++
		var cred types.ExchangeCredential
		if err := json.NewDecoder(req.Body).Decode(&cred); err != nil {
			return nil, err
		}
		cred.UnderscoreRev = fmt.Sprintf("%d-abc", putCount)
		stored = &cred
		return httpmock.NewJsonResponse(201, types.OK{IsOK: true})
	})

	res, err := rs.Reconcile("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, putCount)
	assert.NotNil(t, res.Chosen)
	assert.Equal(t, repository.ExchangeCredentials, res.Chosen.Store)
	assert.Equal(t, "reconciler", stored.Provenance)
	assert.Equal(t, "ak-conn", stored.APIKey)

	// second run: the primary copy is now the newest candidate, no write
	res2, err := rs.Reconcile("client-1", "coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, putCount)
	assert.Equal(t, res.Chosen.APIKey, res2.Chosen.APIKey)
}
