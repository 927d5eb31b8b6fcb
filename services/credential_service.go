package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/metrics"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// CredentialService owns writes to the primary credential store: envelope
// creation on submit/rotation, re-encryption migration and key retirement.
type CredentialService struct {
	credRepo repository.Repository
	vault    *VaultService
}

func NewCredentialService(dbSelector repository.DBSelector, vault *VaultService) *CredentialService {
	credRepo, err := dbSelector.ChooseDB(repository.ExchangeCredentials)
	if err != nil {
		panic(err)
	}
	return &CredentialService{credRepo: credRepo, vault: vault}
}

// Save envelopes the raw secret material and upserts the primary record.
// A credential is replaced whole on rotation; there is no partial update.
func (cs *CredentialService) Save(input *types.InputCredential, provenance string) (*types.ExchangeCredential, error) {
	exchange := util.NormalizeExchange(input.Exchange)

	secretEnc, keyVersion, err := cs.vault.EncryptActive([]byte(input.Secret))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().UnixMilli()
	cred := &types.ExchangeCredential{
		UnderscoreID: types.CredentialDocID(input.ClientID, exchange),
		ClientID:     input.ClientID,
		Exchange:     exchange,
		Chain:        input.Chain,
		Wallet:       input.Wallet,
		APIKey:       input.APIKey,
		SecretEnc:    secretEnc,
		KeyVersion:   keyVersion,
		Memo:         input.Memo,
		Provenance:   provenance,
		Created:      now,
		Updated:      now,
	}
	if provenance == "" {
		cred.Provenance = "operator:" + uuid.NewString()
	}

	if input.Passphrase != "" {
		passphraseEnc, _, pErr := cs.vault.EncryptActive([]byte(input.Passphrase))
		if pErr != nil {
			return nil, pErr
		}
		cred.PassphraseEnc = passphraseEnc
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	// full replacement of any existing record, carrying its revision and
	// original creation timestamp
	existing, gErr := cs.Get(input.ClientID, exchange)
	if gErr != nil && gErr != types.ErrNotFound {
		return nil, gErr
	}
	if existing != nil {
		cred.UnderscoreRev = existing.UnderscoreRev
		cred.Created = existing.Created
	}

	if sErr := cs.credRepo.Save(ctx, cred.UnderscoreID, cred); sErr != nil {
		return nil, sErr
	}
	return cred, nil
}

// Get reads a credential from the primary store
func (cs *CredentialService) Get(clientID string, exchange string) (*types.ExchangeCredential, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	resp, err := cs.credRepo.GetByID(ctx, types.CredentialDocID(clientID, util.NormalizeExchange(exchange)))
	if err != nil {
		return nil, err
	}
	var cred types.ExchangeCredential
	if mErr := repository.MapToObject(resp, &cred); mErr != nil {
		return nil, mErr
	}
	cred.Store = repository.ExchangeCredentials
	return &cred, nil
}

// Delete removes a credential record (and with it the envelopes)
func (cs *CredentialService) Delete(clientID string, exchange string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return cs.credRepo.Delete(ctx, types.CredentialDocID(clientID, util.NormalizeExchange(exchange)))
}

// Decrypt opens the credential's envelopes for signing. Failure makes
// this one credential unusable; it never affects other credentials.
func (cs *CredentialService) Decrypt(cred *types.ExchangeCredential) (*types.DecryptedCredential, error) {
	secret, err := cs.vault.DecryptEncoded(cred.SecretEnc)
	if err != nil {
		level.Error(global.Logger).Log(
			"msg", "credential unusable, secret envelope failed to open",
			"clientId", cred.ClientID,
			"exchange", cred.Exchange,
			"keyVersion", cred.KeyVersion,
			"apiKey", util.MaskSecret(cred.APIKey),
		)
		return nil, err
	}
	decrypted := &types.DecryptedCredential{
		APIKey: cred.APIKey,
		Secret: secret,
		Memo:   cred.Memo,
	}
	if cred.PassphraseEnc != "" {
		passphrase, pErr := cs.vault.DecryptEncoded(cred.PassphraseEnc)
		if pErr != nil {
			return nil, pErr
		}
		decrypted.Passphrase = passphrase
	}
	return decrypted, nil
}

// Masked renders the operator-safe view of a credential
func (cs *CredentialService) Masked(cred *types.ExchangeCredential) *types.OutputMaskedCredential {
	return &types.OutputMaskedCredential{
		ClientID:      cred.ClientID,
		Exchange:      cred.Exchange,
		Chain:         cred.Chain,
		Wallet:        cred.Wallet,
		APIKeyMasked:  util.MaskSecret(cred.APIKey),
		HasSecret:     cred.SecretEnc != "",
		HasPassphrase: cred.PassphraseEnc != "",
		Memo:          cred.Memo,
		KeyVersion:    cred.KeyVersion,
		Provenance:    cred.Provenance,
		Store:         cred.Store,
		Created:       cred.Created,
		Updated:       cred.Updated,
	}
}

// CountByKeyVersion reports how many primary records still hold envelopes
// under the given master key version
func (cs *CredentialService) CountByKeyVersion(version int) (int, error) {
	creds, err := cs.findByKeyVersion(version)
	if err != nil {
		return 0, err
	}
	return len(creds), nil
}

// ReencryptKeyVersion re-envelopes every credential stored under
// oldVersion with the active key. Re-running it is harmless: once no
// record references oldVersion the selector matches nothing.
func (cs *CredentialService) ReencryptKeyVersion(oldVersion int) (int, error) {
	creds, err := cs.findByKeyVersion(oldVersion)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, cred := range creds {
		decrypted, dErr := cs.Decrypt(cred)
		if dErr != nil {
			// one unreadable envelope must not block the rest of the migration
			level.Error(global.Logger).Log(
				"msg", "skipping unreadable envelope during re-encryption",
				"clientId", cred.ClientID, "exchange", cred.Exchange, "keyVersion", cred.KeyVersion)
			continue
		}
		secretEnc, keyVersion, eErr := cs.vault.EncryptActive(decrypted.Secret)
		if eErr != nil {
			return migrated, eErr
		}
		cred.SecretEnc = secretEnc
		cred.KeyVersion = keyVersion
		if len(decrypted.Passphrase) > 0 {
			passphraseEnc, _, pErr := cs.vault.EncryptActive(decrypted.Passphrase)
			if pErr != nil {
				return migrated, pErr
			}
			cred.PassphraseEnc = passphraseEnc
		}
		cred.Provenance = "migration"
		cred.Updated = time.Now().UTC().UnixMilli()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		sErr := cs.credRepo.Save(ctx, cred.UnderscoreID, cred)
		cancel()
		if sErr != nil {
			return migrated, sErr
		}
		migrated++
		metrics.ReencryptedEnvelopesMetricsCount.Inc()
	}
	return migrated, nil
}

// RetireKey drops a master key version, refusing while any stored
// envelope still references it; run the re-encryption migration first
func (cs *CredentialService) RetireKey(version int) error {
	count, err := cs.CountByKeyVersion(version)
	if err != nil {
		return err
	}
	if count > 0 {
		return types.ErrKeyInUse
	}
	return cs.vault.RetireKey(version)
}

func (cs *CredentialService) findByKeyVersion(version int) ([]*types.ExchangeCredential, error) {
	var couchdbError types.CouchDBError

	cl := cs.credRepo.GetClient().(*resty.Client)
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"keyVersion": map[string]interface{}{"$eq": version},
		},
		"use_index": []string{"key-version-index", "key-version-index"},
		"limit":     1000,
	}
	response, err := cl.R().SetError(&couchdbError).SetBody(query).Post(fmt.Sprintf("%s/_find", cs.credRepo.GetDBName()))
	if err != nil {
		return nil, err
	}
	if response.IsError() {
		return nil, fmt.Errorf("error querying %s by key version: %s", cs.credRepo.GetDBName(), couchdbError.Error)
	}

	var respObj map[string]interface{}
	if mErr := json.Unmarshal(response.Body(), &respObj); mErr != nil {
		return nil, mErr
	}
	creds := []*types.ExchangeCredential{}
	if rows, ok := respObj["docs"]; ok {
		for _, row := range rows.([]interface{}) {
			data, mErr := json.Marshal(row)
			if mErr != nil {
				return nil, mErr
			}
			var cred types.ExchangeCredential
			if uErr := json.Unmarshal(data, &cred); uErr != nil {
				return nil, uErr
			}
			cred.Store = repository.ExchangeCredentials
			creds = append(creds, &cred)
		}
	}
	return creds, nil
}
