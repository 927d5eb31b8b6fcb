package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jarcoal/httpmock"
	"github.com/tradewell/go-exchange-vault/types"
)

// implements Repository interface using CouchDB
type CouchDBRepository struct {
	client *resty.Client
	dbName string
}

func NewCouchDBRepository(url, dbName string, username string, password string, mock bool) (Repository, error) {
	cl := resty.New().SetBaseURL(url).SetTimeout(time.Second * 10)
	cl.SetHeader("Content-Type", "application/json")
	cl.SetHeader("Accept", "application/json")
	cl.SetHeader("User-Agent", "go-exchange-vault/1.0.0")
	cl.SetBasicAuth(username, password)

	if mock {
		httpmock.ActivateNonDefault(cl.GetClient())
	}

	existsRes, existsErr := cl.R().Head(dbName)
	if existsErr != nil {
		return nil, fmt.Errorf("failed to check if database exists: %s", existsErr.Error())
	}
	if existsRes.StatusCode() == 200 {
		return &CouchDBRepository{cl, dbName}, nil
	}

	var ok types.OK
	var dbErr types.CouchDBError
	// create DB since it doesn't exist
	cl.R().SetResult(&ok).SetError(&dbErr).Put(dbName)
	if dbErr.Error != "" {
		return nil, fmt.Errorf("failed to create database %s: %s", dbName, dbErr.Error)
	}
	if !ok.IsOK {
		return nil, fmt.Errorf("failed to create database %s", dbName)
	}
	return &CouchDBRepository{cl, dbName}, nil
}

// GetByID returns a document by its ID (raw resty response, see MapToObject)
func (c *CouchDBRepository) GetByID(ctx context.Context, id string) (interface{}, error) {
	response, err := c.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return nil, err
	}
	if response.IsError() {
		return nil, handleError(response)
	}
	return response, nil
}

// return all documents from database, newest first
func (c *CouchDBRepository) GetAll(ctx context.Context, limit int, skip int) ([]interface{}, error) {
	var data map[string]interface{}
	var dbErr types.CouchDBError

	_, err := c.client.R().SetContext(ctx).SetBody(map[string]interface{}{
		"selector": map[string]interface{}{
			"created": map[string]interface{}{
				"$gt": 0,
			},
		},
		"sort":  []map[string]interface{}{{"created": "desc"}},
		"limit": limit,
		"skip":  skip,
	}).SetResult(&data).SetError(&dbErr).Post(fmt.Sprintf("%s/_find", c.dbName))
	if err != nil {
		return nil, err
	}
	if dbErr.Error != "" {
		return nil, fmt.Errorf("failed to get list of documents: %s", dbErr.Error)
	}

	documents := []interface{}{}
	if rows, ok := data["docs"]; ok {
		documents = append(documents, rows.([]interface{})...)
	}
	return documents, nil
}

// Save creates a new doc or updates an existing one; for updates the data
// must carry the current _rev (CouchDB rejects the write with 409 otherwise,
// which is what keeps concurrent reconciles from racing)
func (c *CouchDBRepository) Save(ctx context.Context, docID string, data interface{}) error {
	var ok types.OK
	var dbErr types.CouchDBError

	resp, err := c.client.R().SetContext(ctx).SetBody(data).SetResult(&ok).SetError(&dbErr).Put(fmt.Sprintf("%s/%s", c.dbName, docID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return handleError(resp)
	}
	if dbErr.Error != "" {
		return fmt.Errorf("failed to save document: %s", dbErr.Error)
	}
	return nil
}

// Update updates an existing document
func (c *CouchDBRepository) Update(ctx context.Context, id string, data interface{}) error {
	return c.Save(ctx, id, data)
}

// Delete deletes a document by its ID
func (c *CouchDBRepository) Delete(ctx context.Context, id string) error {
	resp, err := c.client.R().SetContext(ctx).Get(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return handleError(resp)
	}
	var doc types.BaseDocument
	if mErr := MapToObject(resp, &doc); mErr != nil {
		return mErr
	}

	var delErr types.CouchDBError
	delResp, err := c.client.R().SetContext(ctx).SetError(&delErr).SetQueryParam("rev", doc.UnderscoreRev).Delete(fmt.Sprintf("%s/%s", c.dbName, id))
	if err != nil {
		return err
	}
	if delResp.IsError() {
		return handleError(delResp)
	}
	return nil
}

// return name of the database
func (c *CouchDBRepository) GetDBName() string {
	return c.dbName
}

// returns a resty client
func (c *CouchDBRepository) GetClient() interface{} {
	return c.client
}
