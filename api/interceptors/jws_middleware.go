package interceptors

import (
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v3"
	"github.com/tradewell/go-exchange-vault/global"
)

const (
	tokenExpiryHours = 12
)

// JWSMiddleware authenticates operator requests: a compact JWS in the
// Authorization header, signed by the server's ed25519 key, with a
// mandatory exp claim. The subject is exposed to handlers for
// provenance stamping.
func JWSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is missing"})
			return
		}

		object, err := jose.ParseSigned(auth)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid JWS message"})
			return
		}

		_, err = object.Verify(global.PublicKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Failed to verify JWS message"})
			return
		}

		payload := object.UnsafePayloadWithoutVerification()
		var plMap map[string]interface{}
		uErr := json.Unmarshal(payload, &plMap)
		if uErr != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
			return
		}
		exp, ok := plMap["exp"]
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload (exp missing)"})
			return
		}
		expFloat, ok := exp.(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Failed to parse JWS payload"})
			return
		}
		if int64(expFloat) < time.Now().Unix() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "JWS message expired"})
			return
		}
		if sub, ok := plMap["sub"]; ok {
			c.Set("subject", sub.(string))
		}
		c.Next()
	}
}

// GenerateJWSToken issues an operator token signed with the server key
func GenerateJWSToken(serverPrivateKey ed25519.PrivateKey, subject string) (string, error) {
	pl := map[string]interface{}{
		"iss": "exchange-vault",
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour * tokenExpiryHours).Unix(),
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: serverPrivateKey}, nil)
	if err != nil {
		return "", err
	}

	plBytes, plErr := json.Marshal(pl)
	if plErr != nil {
		return "", plErr
	}
	object, err := signer.Sign(plBytes)
	if err != nil {
		return "", err
	}

	return object.CompactSerialize()
}
