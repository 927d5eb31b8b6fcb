package types

// SigningScheme enumerates the supported exchange authentication schemes.
// The set is closed: adding an exchange means a new registry entry and,
// if its protocol differs, a new variant with its own canonicalization.
type SigningScheme int

const (
	SchemeUnknown SigningScheme = iota
	// SchemeHmac: signature = hex(HMAC-SHA256(secret, timestamp#memo#payload))
	SchemeHmac
	// SchemeWindowedHmac: ephemeral = HMAC-SHA256(secret, windowID);
	// signature = hex(HMAC-SHA256(ephemeral, payload))
	SchemeWindowedHmac
	// SchemePassphraseHmac: signature = base64(HMAC-SHA256(secret,
	// timestamp+method+path+payload)); passphrase sent in its own
	// HMAC-protected header
	SchemePassphraseHmac
)

func (s SigningScheme) String() string {
	switch s {
	case SchemeHmac:
		return "hmac"
	case SchemeWindowedHmac:
		return "windowed-hmac"
	case SchemePassphraseHmac:
		return "passphrase-hmac"
	}
	return "unknown"
}

// SigningRequest describes exactly what must be authenticated. Payload is
// the byte sequence that will be transmitted; the signer's contract is
// defined on these bytes and nothing else.
type SigningRequest struct {
	Exchange string
	Method   string
	Path     string
	Payload  []byte
}

// SignedHeaders is the signer output: header values to attach verbatim to
// the outbound call, plus the unix-millisecond instant after which the
// signature is stale and must be regenerated, never reused.
type SignedHeaders struct {
	Headers   map[string]string
	ExpiresAt int64
}

// DecryptedCredential is the ephemeral plaintext view handed to the
// signer. It is never stored and never logged.
type DecryptedCredential struct {
	APIKey     string
	Secret     []byte
	Passphrase []byte
	Memo       string
}
