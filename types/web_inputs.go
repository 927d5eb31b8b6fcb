package types

// operator submits a raw credential; secret material is enveloped before storage
type InputCredential struct {
	ClientID   string `json:"clientId" validate:"required"`
	Exchange   string `json:"exchange" validate:"required,lowercase"`
	Chain      string `json:"chain,omitempty"`
	Wallet     string `json:"wallet,omitempty"`
	APIKey     string `json:"apiKey" validate:"required"`
	Secret     string `json:"secret" validate:"required"`
	Passphrase string `json:"passphrase,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

// for the dry-run signing probe
type InputVerify struct {
	Method  string `json:"method,omitempty"`
	Path    string `json:"path,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// for key retirement: enqueue re-encryption of envelopes under oldKeyVersion
type InputReencrypt struct {
	OldKeyVersion int `json:"oldKeyVersion" validate:"required,min=1"`
}
