package types

// masked view of a stored credential; never carries secret material
type OutputMaskedCredential struct {
	ClientID      string `json:"clientId"`
	Exchange      string `json:"exchange"`
	Chain         string `json:"chain,omitempty"`
	Wallet        string `json:"wallet,omitempty"`
	APIKeyMasked  string `json:"apiKey"`
	HasSecret     bool   `json:"hasSecret"`
	HasPassphrase bool   `json:"hasPassphrase"`
	Memo          string `json:"memo,omitempty"`
	KeyVersion    int    `json:"keyVersion,omitempty"`
	Provenance    string `json:"provenance,omitempty"`
	Store         string `json:"store,omitempty"`
	Created       int64  `json:"created,omitempty"`
	Updated       int64  `json:"updated,omitempty"`
}

type OutputDiagnose struct {
	State  string                    `json:"state"`
	Chosen *OutputMaskedCredential   `json:"chosen,omitempty"`
	Others []*OutputMaskedCredential `json:"others,omitempty"`
	Reason string                    `json:"reason,omitempty"`
}

type OutputReconcile struct {
	State    string                  `json:"state"`
	Healed   bool                    `json:"healed"`
	Resolved *OutputMaskedCredential `json:"resolved,omitempty"`
}

type OutputVerify struct {
	Exchange        string            `json:"exchange"`
	Scheme          string            `json:"scheme"`
	Headers         map[string]string `json:"headers"` // signature values masked
	ExpiresAt       int64             `json:"expiresAt,omitempty"`
	SignatureMasked string            `json:"signature"`
}

type OutputTaskEnqueued struct {
	TaskID string `json:"taskId"`
	Type   string `json:"type"`
}
