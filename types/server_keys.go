package types

// ServerKeys is the on-disk format of the server's ed25519 JWS signing
// key, generated by the vaultcmd CLI. The private key is base64 encoded
// in the standard 64 byte form; the public key is its last 32 bytes.
type ServerKeys struct {
	PrivateKey string `json:"privateKey"`
	Created    int64  `json:"created"`
}
