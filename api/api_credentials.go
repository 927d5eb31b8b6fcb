package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/services"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

type CredentialsApi struct {
	credentialService *services.CredentialService
	resolverService   *services.ResolverService
	signerService     *services.SignerService
	validate          *validator.Validate
}

func NewCredentialsApi(credentialService *services.CredentialService, resolverService *services.ResolverService, signerService *services.SignerService) *CredentialsApi {
	return &CredentialsApi{
		credentialService: credentialService,
		resolverService:   resolverService,
		signerService:     signerService,
		validate:          validator.New(),
	}
}

// Submit a credential
// @Security Bearer
// @Summary Submit an exchange credential
// @Description Secret material is encrypted before storage; resubmitting replaces the record whole
// @Tags Credentials
// @Accept json
// @Produce json
// @Success 201 {object} types.OutputMaskedCredential
// @Router /api/v1/credentials [post]
func (ca *CredentialsApi) CreateCredential(c *gin.Context) {
	var input types.InputCredential
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid credential payload: %s", err)
		return
	}
	input.Exchange = util.NormalizeExchange(input.Exchange)
	if err := ca.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, "%s", msg)
		return
	}
	if _, err := ca.signerService.SchemeFor(input.Exchange); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "unsupported exchange: %s", input.Exchange)
		return
	}

	cred, err := ca.credentialService.Save(&input, "")
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "error while storing credential: %s", err)
		return
	}
	c.JSON(http.StatusCreated, ca.credentialService.Masked(cred))
}

// Get masked credential
// @Security Bearer
// @Summary Get a credential (masked)
// @Tags Credentials
// @Param clientId path string true "Client ID"
// @Param exchange path string true "Exchange"
// @Produce json
// @Success 200 {object} types.OutputMaskedCredential
// @Router /api/v1/credentials/{clientId}/{exchange} [get]
func (ca *CredentialsApi) GetCredential(c *gin.Context) {
	clientID := c.Param("clientId")
	exchange := c.Param("exchange")
	if clientID == "" || exchange == "" {
		ApiErrorf(c, http.StatusBadRequest, "invalid path: %s/%s", clientID, exchange)
		return
	}
	cred, err := ca.credentialService.Get(clientID, exchange)
	if err != nil {
		if err == types.ErrNotFound {
			ApiErrorf(c, http.StatusNotFound, "credential not found: %s/%s", clientID, exchange)
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "error while getting credential: %s", err)
		return
	}
	c.JSON(http.StatusOK, ca.credentialService.Masked(cred))
}

// Delete credential
// @Security Bearer
// @Summary Delete a credential and its envelopes
// @Tags Credentials
// @Param clientId path string true "Client ID"
// @Param exchange path string true "Exchange"
// @Router /api/v1/credentials/{clientId}/{exchange} [delete]
func (ca *CredentialsApi) DeleteCredential(c *gin.Context) {
	clientID := c.Param("clientId")
	exchange := c.Param("exchange")
	err := ca.credentialService.Delete(clientID, exchange)
	if err != nil {
		if err == types.ErrNotFound {
			ApiErrorf(c, http.StatusNotFound, "credential not found: %s/%s", clientID, exchange)
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "error while deleting credential: %s", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Diagnose resolution across all stores
// @Security Bearer
// @Summary Report where a credential resolves from and whether stores disagree
// @Tags Credentials
// @Param clientId path string true "Client ID"
// @Param exchange path string true "Exchange"
// @Produce json
// @Success 200 {object} types.OutputDiagnose
// @Router /api/v1/credentials/{clientId}/{exchange}/diagnose [get]
func (ca *CredentialsApi) Diagnose(c *gin.Context) {
	clientID := c.Param("clientId")
	exchange := c.Param("exchange")
	res, err := ca.resolverService.Resolve(clientID, exchange)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "error while resolving credential: %s", err)
		return
	}
	c.JSON(http.StatusOK, ca.toDiagnose(res))
}

// Reconcile drift into the primary store
// @Security Bearer
// @Summary Copy the winning candidate into the primary store
// @Description Idempotent; a second call performs no write
// @Tags Credentials
// @Param clientId path string true "Client ID"
// @Param exchange path string true "Exchange"
// @Produce json
// @Success 200 {object} types.OutputReconcile
// @Router /api/v1/credentials/{clientId}/{exchange}/reconcile [post]
func (ca *CredentialsApi) Reconcile(c *gin.Context) {
	clientID := c.Param("clientId")
	exchange := c.Param("exchange")

	before, err := ca.resolverService.Resolve(clientID, exchange)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "error while resolving credential: %s", err)
		return
	}
	after, err := ca.resolverService.Reconcile(clientID, exchange)
	if err != nil {
		ApiErrorf(c, http.StatusInternalServerError, "error while reconciling credential: %s", err)
		return
	}
	out := &types.OutputReconcile{
		State:  string(after.State),
		Healed: before.Chosen != nil && before.Chosen.Store != repository.ExchangeCredentials,
	}
	if after.Chosen != nil {
		out.Resolved = ca.credentialService.Masked(after.Chosen)
	}
	c.JSON(http.StatusOK, out)
}

// Verify signing end to end without transmitting anything
// @Security Bearer
// @Summary Dry-run sign a probe request with the stored credential
// @Tags Credentials
// @Param clientId path string true "Client ID"
// @Param exchange path string true "Exchange"
// @Accept json
// @Produce json
// @Success 200 {object} types.OutputVerify
// @Router /api/v1/credentials/{clientId}/{exchange}/verify [post]
func (ca *CredentialsApi) Verify(c *gin.Context) {
	clientID := c.Param("clientId")
	exchange := util.NormalizeExchange(c.Param("exchange"))

	var input types.InputVerify
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid verify payload: %s", err)
		return
	}
	if input.Method == "" {
		input.Method = "GET"
	}
	if input.Path == "" {
		input.Path = "/api/v1/account"
	}

	cred, err := ca.credentialService.Get(clientID, exchange)
	if err != nil {
		if err == types.ErrNotFound {
			ApiErrorf(c, http.StatusNotFound, "credential not found: %s/%s", clientID, exchange)
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "error while getting credential: %s", err)
		return
	}
	decrypted, err := ca.credentialService.Decrypt(cred)
	if err != nil {
		ApiErrorf(c, http.StatusConflict, "credential unusable, envelope failed to open")
		return
	}

	spec, err := ca.signerService.SchemeFor(exchange)
	if err != nil {
		ApiErrorf(c, http.StatusBadRequest, "unsupported exchange: %s", exchange)
		return
	}
	signed, err := ca.signerService.Sign(decrypted, &types.SigningRequest{
		Exchange: exchange,
		Method:   input.Method,
		Path:     input.Path,
		Payload:  []byte(input.Payload),
	})
	if err != nil {
		if err == types.ErrMissingFactor {
			ApiErrorf(c, http.StatusConflict, "credential is missing a factor the scheme requires")
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "error while signing: %s", err)
		return
	}
	c.JSON(http.StatusOK, maskSignedHeaders(exchange, spec, signed))
}

func (ca *CredentialsApi) toDiagnose(res *types.Resolution) *types.OutputDiagnose {
	out := &types.OutputDiagnose{
		State:  string(res.State),
		Reason: res.Reason,
	}
	if res.Chosen != nil {
		out.Chosen = ca.credentialService.Masked(res.Chosen)
	}
	for _, other := range res.Others {
		out.Others = append(out.Others, ca.credentialService.Masked(other))
	}
	return out
}

// per scheme, the header carrying the signature value itself
var signatureHeaders = map[types.SigningScheme]string{
	types.SchemeHmac:           "X-BM-SIGN",
	types.SchemeWindowedHmac:   "X-CS-SIGN",
	types.SchemePassphraseHmac: "KC-API-SIGN",
}

// maskSignedHeaders masks every signing output value; operators compare
// masked prefixes and suffixes against the exchange's own tooling
func maskSignedHeaders(exchange string, spec services.SchemeSpec, signed *types.SignedHeaders) *types.OutputVerify {
	out := &types.OutputVerify{
		Exchange:  exchange,
		Scheme:    spec.Scheme.String(),
		Headers:   map[string]string{},
		ExpiresAt: signed.ExpiresAt,
	}
	for name, value := range signed.Headers {
		out.Headers[name] = util.MaskSecret(value)
	}
	if sig, ok := signed.Headers[signatureHeaders[spec.Scheme]]; ok {
		out.SignatureMasked = util.MaskSecret(sig)
	}
	return out
}
