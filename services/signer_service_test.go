package services

import (
	"strconv"
	"testing"
	"time"

	"github.com/tj/assert"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

func fixedClock(ms int64) Clock {
	return func() time.Time { return time.UnixMilli(ms) }
}

func coinstoreRequest(payload string) *types.SigningRequest {
	return &types.SigningRequest{
		Exchange: "coinstore",
		Method:   "POST",
		Path:     "/api/v1/order",
		Payload:  []byte(payload),
	}
}

func TestSignUnsupportedExchange(t *testing.T) {
	signer := NewSignerService(nil)
	cred := &types.DecryptedCredential{APIKey: "key", Secret: []byte("secret")}
	_, err := signer.Sign(cred, &types.SigningRequest{Exchange: "unknownex", Payload: []byte("{}")})
	assert.Equal(t, types.ErrUnsupportedScheme, err)
}

func TestWindowedHmacTwoStepDerivation(t *testing.T) {
	// windowID 1700000000 => clock at 1700000000 * 30000 ms
	clock := fixedClock(1700000000 * 30000)
	signer := NewSignerService(clock)
	secret := []byte("s")

	signed, err := signer.Sign(&types.DecryptedCredential{APIKey: "ak", Secret: secret}, coinstoreRequest("{}"))
	if err != nil {
		t.Fatal(err)
	}

	// signature must match the documented two-step derivation exactly:
	// ephemeral = HMAC-SHA256(s, "1700000000"); sig = HMAC-SHA256(ephemeral, "{}")
	ephemeral := util.HmacSha256(secret, []byte("1700000000"))
	expected := util.HmacSha256Hex(ephemeral, []byte("{}"))
	assert.Equal(t, expected, signed.Headers["X-CS-SIGN"])
	assert.Equal(t, "ak", signed.Headers["X-CS-APIKEY"])
	assert.Equal(t, strconv.FormatInt(1700000000*30000, 10), signed.Headers["X-CS-EXPIRES"])
}

func TestWindowedHmacDeterministicWithinWindow(t *testing.T) {
	secret := []byte("window-secret")
	cred := &types.DecryptedCredential{APIKey: "ak", Secret: secret}

	base := int64(1700000000 * 30000)
	first, err := NewSignerService(fixedClock(base + 1000)).Sign(cred, coinstoreRequest(`{"side":"buy"}`))
	if err != nil {
		t.Fatal(err)
	}
	second, err := NewSignerService(fixedClock(base + 29000)).Sign(cred, coinstoreRequest(`{"side":"buy"}`))
	if err != nil {
		t.Fatal(err)
	}
	// same window, same payload, same signature
	assert.Equal(t, first.Headers["X-CS-SIGN"], second.Headers["X-CS-SIGN"])

	next, err := NewSignerService(fixedClock(base + 30000)).Sign(cred, coinstoreRequest(`{"side":"buy"}`))
	if err != nil {
		t.Fatal(err)
	}
	// next window derives a different ephemeral key
	assert.NotEqual(t, first.Headers["X-CS-SIGN"], next.Headers["X-CS-SIGN"])
}

func TestWindowedHmacExpiryAtWindowBoundary(t *testing.T) {
	base := int64(1700000000 * 30000)
	signed, err := NewSignerService(fixedClock(base + 12345)).Sign(
		&types.DecryptedCredential{APIKey: "ak", Secret: []byte("s")}, coinstoreRequest("{}"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, base+30000, signed.ExpiresAt)
}

func TestHmacRequiresMemo(t *testing.T) {
	signer := NewSignerService(fixedClock(1700000001000))
	cred := &types.DecryptedCredential{APIKey: "ak", Secret: []byte("s")}
	_, err := signer.Sign(cred, &types.SigningRequest{Exchange: "bitmart", Payload: []byte("{}")})
	assert.Equal(t, types.ErrMissingFactor, err)
}

func TestHmacCanonicalString(t *testing.T) {
	now := int64(1700000001000)
	signer := NewSignerService(fixedClock(now))
	secret := []byte("bm-secret")
	cred := &types.DecryptedCredential{APIKey: "ak", Secret: secret, Memo: "acct-77"}

	signed, err := signer.Sign(cred, &types.SigningRequest{Exchange: "bitmart", Method: "POST", Path: "/orders", Payload: []byte(`{"q":1}`)})
	if err != nil {
		t.Fatal(err)
	}

	// the timestamp header and the signed string come from the same clock read
	ts := signed.Headers["X-BM-TIMESTAMP"]
	assert.Equal(t, strconv.FormatInt(now, 10), ts)
	expected := util.HmacSha256Hex(secret, []byte(ts+"#acct-77#"+`{"q":1}`))
	assert.Equal(t, expected, signed.Headers["X-BM-SIGN"])
	assert.Equal(t, now+5000, signed.ExpiresAt)
}

func TestPassphraseHmacRequiresPassphrase(t *testing.T) {
	signer := NewSignerService(fixedClock(1700000001000))
	cred := &types.DecryptedCredential{APIKey: "ak", Secret: []byte("s")}
	_, err := signer.Sign(cred, &types.SigningRequest{Exchange: "kucoin", Method: "GET", Path: "/api/v1/accounts", Payload: []byte("")})
	assert.Equal(t, types.ErrMissingFactor, err)
}

func TestPassphraseHmacHeaders(t *testing.T) {
	now := int64(1700000001000)
	signer := NewSignerService(fixedClock(now))
	secret := []byte("kc-secret")
	cred := &types.DecryptedCredential{APIKey: "ak", Secret: secret, Passphrase: []byte("hunter2pass")}

	signed, err := signer.Sign(cred, &types.SigningRequest{Exchange: "KuCoin", Method: "GET", Path: "/api/v1/accounts", Payload: []byte("")})
	if err != nil {
		t.Fatal(err)
	}

	ts := strconv.FormatInt(now, 10)
	assert.Equal(t, ts, signed.Headers["KC-API-TIMESTAMP"])
	assert.Equal(t, util.HmacSha256Base64(secret, []byte(ts+"GET"+"/api/v1/accounts")), signed.Headers["KC-API-SIGN"])
	// passphrase travels in its own HMAC protected header, not in the signature
	assert.Equal(t, util.HmacSha256Base64(secret, []byte("hunter2pass")), signed.Headers["KC-API-PASSPHRASE"])
	assert.Equal(t, "2", signed.Headers["KC-API-KEY-VERSION"])
}

func TestSchemeFor(t *testing.T) {
	signer := NewSignerService(nil)
	spec, err := signer.SchemeFor("Coinstore")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, types.SchemeWindowedHmac, spec.Scheme)
	assert.Equal(t, int64(30000), spec.WindowMillis)

	_, err = signer.SchemeFor("nope")
	assert.Equal(t, types.ErrUnsupportedScheme, err)
}
