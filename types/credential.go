package types

// ExchangeCredential is one stored credential record: (client, exchange)
// for centralized exchange API keys, or (client, chain, wallet) for
// on-chain signing keys. Secret material is held only as envelopes.
type ExchangeCredential struct {
	UnderscoreID  string `json:"_id,omitempty"`
	UnderscoreRev string `json:"_rev,omitempty"`

	ClientID string `json:"clientId"`
	Exchange string `json:"exchange"`
	Chain    string `json:"chain,omitempty"`
	Wallet   string `json:"wallet,omitempty"`

	// APIKey is not secret on the exchanges supported here; exchanges
	// whose key is itself secret store it enveloped in APIKeyEnc instead
	APIKey    string `json:"apiKey,omitempty"`
	APIKeyEnc string `json:"apiKeyEnc,omitempty"`

	SecretEnc     string `json:"secretEnc"`
	PassphraseEnc string `json:"passphraseEnc,omitempty"`

	// KeyVersion mirrors the secret envelope's key version at the top
	// level so the re-encryption migration can select on it
	KeyVersion int `json:"keyVersion,omitempty"`

	// Memo is the merchant/account identifier some exchanges require
	// alongside key+secret (e.g. the BitMart memo)
	Memo string `json:"memo,omitempty"`

	Provenance string `json:"provenance,omitempty"`
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`

	// Store names the database the record was read from; resolver
	// annotation only, never persisted
	Store string `json:"-"`
}

// CredentialDocID is the primary-store document id for a (client, exchange)
// pair. Fixing the id is what makes reconcile an idempotent upsert.
func CredentialDocID(clientID, exchange string) string {
	return clientID + ":" + exchange
}

// BotWallet is a referencing record: a wallet assigned to a running bot.
// A wallet with no matching credential in any store is an inconsistency.
type BotWallet struct {
	UnderscoreID  string `json:"_id,omitempty"`
	UnderscoreRev string `json:"_rev,omitempty"`

	ClientID string `json:"clientId"`
	Exchange string `json:"exchange"`
	Wallet   string `json:"wallet,omitempty"`
	BotID    string `json:"botId"`
	Created  int64  `json:"created"`
}
