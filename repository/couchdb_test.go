package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/tradewell/go-exchange-vault/types"
)

var url = "http://localhost:5689"

func InitMockDatabase(dbName string) (Repository, error) {
	httpmock.Activate()

	mr, mErr := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	if mErr != nil {
		return nil, mErr
	}
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", url, dbName), mr)

	db, err := NewCouchDBRepository(url, dbName, "test", "test", true)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func deactivateMock() {
	httpmock.DeactivateAndReset()
}

func TestInitNewDatabase(t *testing.T) {
	db, err := InitMockDatabase(ExchangeCredentials)
	defer deactivateMock()
	if err != nil {
		t.Fatal(err)
	}
	if db == nil {
		t.Fatal("db is nil")
	}
}

func TestSaveAndGetByID(t *testing.T) {
	db, _ := InitMockDatabase(ExchangeCredentials)
	defer deactivateMock()

	docID := types.CredentialDocID("client-1", "coinstore")

	mk, _ := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, ExchangeCredentials, docID), mk)

	mk, _ = httpmock.NewJsonResponder(200, types.ExchangeCredential{
		UnderscoreID: docID,
		ClientID:     "client-1",
		Exchange:     "coinstore",
		SecretEnc:    "c2VhbGVk",
	})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, ExchangeCredentials, docID), mk)

	sErr := db.Save(context.Background(), docID, &types.ExchangeCredential{
		ClientID: "client-1",
		Exchange: "coinstore",
	})
	if sErr != nil {
		t.Fatal(sErr)
	}
	res, err := db.GetByID(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	var cred types.ExchangeCredential
	if mErr := MapToObject(res, &cred); mErr != nil {
		t.Fatal(mErr)
	}
	assert.Equal(t, "client-1", cred.ClientID)
	assert.Equal(t, "coinstore", cred.Exchange)
}

func TestGetByIDNotFound(t *testing.T) {
	db, _ := InitMockDatabase(ExchangeCredentials)
	defer deactivateMock()

	notFound, _ := httpmock.NewJsonResponder(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, ExchangeCredentials, "nope"), notFound)

	_, err := db.GetByID(context.Background(), "nope")
	assert.Equal(t, types.ErrNotFound, err)
}

func TestSaveConflict(t *testing.T) {
	db, _ := InitMockDatabase(ExchangeCredentials)
	defer deactivateMock()

	conflict, _ := httpmock.NewJsonResponder(409, types.CouchDBError{Error: "conflict", Reason: "Document update conflict."})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, ExchangeCredentials, "stale"), conflict)

	err := db.Save(context.Background(), "stale", &types.ExchangeCredential{ClientID: "client-1"})
	assert.Equal(t, types.ErrConflict, err)
}
