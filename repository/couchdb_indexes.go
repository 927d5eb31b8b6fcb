package repository

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// CreateClientExchangeIndex creates an index for looking up credential
// candidates by (clientId, exchange) ordered by updated desc; used by the
// resolver against the legacy stores
func CreateClientExchangeIndex(repo Repository) error {
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []map[string]interface{}{
				{"clientId": "desc"},
				{"exchange": "desc"},
				{"updated": "desc"},
			},
		},
		"name": "client-exchange-updated-index",
		"ddoc": "client-exchange-updated-index",
		"type": "json",
	}

	c := repo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", repo.GetDBName(), "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}

// CreateKeyVersionIndex creates an index for finding envelopes stored
// under a given master key version (re-encryption migration)
func CreateKeyVersionIndex(repo Repository) error {
	indexPayload := map[string]interface{}{
		"index": map[string]interface{}{
			"fields": []string{"keyVersion"},
		},
		"name": "key-version-index",
		"ddoc": "key-version-index",
		"type": "json",
	}

	c := repo.GetClient().(*resty.Client)
	resp, rErr := c.R().SetBody(indexPayload).Post(fmt.Sprintf("%s/%s", repo.GetDBName(), "_index"))
	if rErr != nil {
		return rErr
	}
	if resp.IsError() {
		return handleError(resp)
	}
	return nil
}
