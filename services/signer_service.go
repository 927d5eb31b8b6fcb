package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tradewell/go-exchange-vault/metrics"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// Clock supplies the signing time. A single read feeds both the timestamp
// header and the canonical string, so the two can never disagree.
type Clock func() time.Time

// SchemeSpec carries the per-exchange signing constants. Window width and
// timestamp encoding are exchange-documented values, never inferred from
// another exchange.
type SchemeSpec struct {
	Scheme types.SigningScheme
	// WindowMillis is the time bucket width for SchemeWindowedHmac
	WindowMillis int64
	// RecvWindowMillis is how long the exchange accepts a timestamped
	// signature (clock skew tolerance)
	RecvWindowMillis int64
}

// the set of supported exchanges is closed and explicit
var exchangeSchemes = map[string]SchemeSpec{
	"bitmart":   {Scheme: types.SchemeHmac, RecvWindowMillis: 5000},
	"coinstore": {Scheme: types.SchemeWindowedHmac, WindowMillis: 30000},
	"kucoin":    {Scheme: types.SchemePassphraseHmac, RecvWindowMillis: 5000},
}

// SignerService produces exchange authentication headers. Signing is a
// pure function of (scheme, credential, request, clock); no session state
// is retained between calls, so the service is safe for concurrent use.
type SignerService struct {
	clock Clock
}

func NewSignerService(clock Clock) *SignerService {
	if clock == nil {
		clock = time.Now
	}
	return &SignerService{clock: clock}
}

// SchemeFor maps an exchange identifier to its signing scheme
func (ss *SignerService) SchemeFor(exchange string) (SchemeSpec, error) {
	spec, ok := exchangeSchemes[util.NormalizeExchange(exchange)]
	if !ok {
		return SchemeSpec{}, types.ErrUnsupportedScheme
	}
	return spec, nil
}

// Sign produces the authentication headers for one outbound request. The
// signature covers exactly req.Payload; transmitting different bytes is a
// caller bug, not a signer bug.
func (ss *SignerService) Sign(cred *types.DecryptedCredential, req *types.SigningRequest) (*types.SignedHeaders, error) {
	exchange := util.NormalizeExchange(req.Exchange)
	spec, ok := exchangeSchemes[exchange]
	if !ok {
		return nil, types.ErrUnsupportedScheme
	}

	var signed *types.SignedHeaders
	var err error
	switch spec.Scheme {
	case types.SchemeHmac:
		signed, err = ss.signHmac(spec, cred, req)
	case types.SchemeWindowedHmac:
		signed, err = ss.signWindowedHmac(spec, cred, req)
	case types.SchemePassphraseHmac:
		signed, err = ss.signPassphraseHmac(spec, cred, req)
	default:
		return nil, types.ErrUnsupportedScheme
	}
	if err != nil {
		return nil, err
	}
	metrics.SignaturesIssuedMetricsTotal.WithLabelValues(exchange).Inc()
	return signed, nil
}

// signature = hex(HMAC-SHA256(secret, timestamp#memo#payload)); the memo
// (merchant/account id) is a required third factor
func (ss *SignerService) signHmac(spec SchemeSpec, cred *types.DecryptedCredential, req *types.SigningRequest) (*types.SignedHeaders, error) {
	if cred.Memo == "" {
		return nil, types.ErrMissingFactor
	}
	now := ss.clock().UnixMilli()
	canonical := fmt.Sprintf("%d#%s#%s", now, cred.Memo, req.Payload)
	signature := util.HmacSha256Hex(cred.Secret, []byte(canonical))
	return &types.SignedHeaders{
		Headers: map[string]string{
			"X-BM-KEY":       cred.APIKey,
			"X-BM-TIMESTAMP": strconv.FormatInt(now, 10),
			"X-BM-SIGN":      signature,
		},
		ExpiresAt: now + spec.RecvWindowMillis,
	}, nil
}

// time is bucketed: windowID = expires / WindowMillis (integer division),
// encoded as a plain decimal string. Step 1 derives an ephemeral key =
// HMAC-SHA256(secret, windowID); step 2 signs the exact payload bytes
// with it. The ephemeral key changes once per window, so two signatures
// inside one window are identical for identical payloads.
func (ss *SignerService) signWindowedHmac(spec SchemeSpec, cred *types.DecryptedCredential, req *types.SigningRequest) (*types.SignedHeaders, error) {
	expires := ss.clock().UnixMilli()
	windowID := expires / spec.WindowMillis
	ephemeralKey := util.HmacSha256(cred.Secret, []byte(strconv.FormatInt(windowID, 10)))
	signature := util.HmacSha256Hex(ephemeralKey, req.Payload)
	return &types.SignedHeaders{
		Headers: map[string]string{
			"X-CS-APIKEY":  cred.APIKey,
			"X-CS-EXPIRES": strconv.FormatInt(expires, 10),
			"X-CS-SIGN":    signature,
		},
		// valid until the next window boundary
		ExpiresAt: (windowID + 1) * spec.WindowMillis,
	}, nil
}

// signature = base64(HMAC-SHA256(secret, timestamp+method+path+payload));
// the passphrase is a required third factor, transmitted in its own
// header protected with HMAC rather than mixed into the signature
func (ss *SignerService) signPassphraseHmac(spec SchemeSpec, cred *types.DecryptedCredential, req *types.SigningRequest) (*types.SignedHeaders, error) {
	if len(cred.Passphrase) == 0 {
		return nil, types.ErrMissingFactor
	}
	now := ss.clock().UnixMilli()
	timestamp := strconv.FormatInt(now, 10)
	canonical := timestamp + req.Method + req.Path + string(req.Payload)
	signature := util.HmacSha256Base64(cred.Secret, []byte(canonical))
	passphrase := util.HmacSha256Base64(cred.Secret, cred.Passphrase)
	return &types.SignedHeaders{
		Headers: map[string]string{
			"KC-API-KEY":         cred.APIKey,
			"KC-API-SIGN":        signature,
			"KC-API-TIMESTAMP":   timestamp,
			"KC-API-PASSPHRASE":  passphrase,
			"KC-API-KEY-VERSION": "2",
		},
		ExpiresAt: now + spec.RecvWindowMillis,
	}, nil
}
