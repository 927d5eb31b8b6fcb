package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/services"
	"github.com/tradewell/go-exchange-vault/types"
)

type KeysApi struct {
	credentialService *services.CredentialService
	vaultService      *services.VaultService
	env               *types.Environment
	validate          *validator.Validate
}

func NewKeysApi(credentialService *services.CredentialService, vaultService *services.VaultService, env *types.Environment) *KeysApi {
	return &KeysApi{
		credentialService: credentialService,
		vaultService:      vaultService,
		env:               env,
		validate:          validator.New(),
	}
}

// Key status
// @Security Bearer
// @Summary Report the active key version and per-version envelope counts
// @Tags Keys
// @Produce json
// @Router /api/v1/keys [get]
func (ka *KeysApi) KeyStatus(c *gin.Context) {
	active := ka.vaultService.ActiveKeyVersion()
	counts := map[string]int{}
	for version := 1; version <= active; version++ {
		count, err := ka.credentialService.CountByKeyVersion(version)
		if err != nil {
			ApiErrorf(c, http.StatusInternalServerError, "error while counting envelopes: %s", err)
			return
		}
		if count > 0 || version == active {
			counts[strconv.Itoa(version)] = count
		}
	}
	c.JSON(http.StatusOK, gin.H{"activeKeyVersion": active, "envelopesByVersion": counts})
}

// Enqueue the re-encryption migration
// @Security Bearer
// @Summary Re-envelope all credentials stored under an old key version
// @Description Run before retiring the version; safe to re-run
// @Tags Keys
// @Accept json
// @Produce json
// @Success 202 {object} types.OutputTaskEnqueued
// @Router /api/v1/keys/reencrypt [post]
func (ka *KeysApi) Reencrypt(c *gin.Context) {
	var input types.InputReencrypt
	if err := c.ShouldBindJSON(&input); err != nil {
		ApiErrorf(c, http.StatusBadRequest, "invalid reencrypt payload: %s", err)
		return
	}
	if err := ka.validate.Struct(input); err != nil {
		msg := ValidatorErrorToUser(err.(validator.ValidationErrors))
		ApiErrorf(c, http.StatusBadRequest, "%s", msg)
		return
	}
	if input.OldKeyVersion >= ka.vaultService.ActiveKeyVersion() {
		ApiErrorf(c, http.StatusBadRequest, "key version %d is not an old version", input.OldKeyVersion)
		return
	}

	task, tErr := types.NewReencryptTask(&types.ReencryptTask{
		OldKeyVersion: input.OldKeyVersion,
		RequestedBy:   c.GetString("subject"),
	})
	if tErr != nil {
		ApiErrorf(c, http.StatusInternalServerError, "failed to build task: %s", tErr)
		return
	}
	taskInfo, tqErr := ka.env.TaskClient.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Unique(time.Minute)) // one migration per key version at a time
	if tqErr != nil {
		global.Logger.Log("msg", "failed to enqueue re-encryption", "err", tqErr)
		ApiErrorf(c, http.StatusInternalServerError, "failed to enqueue re-encryption")
		return
	}
	c.JSON(http.StatusAccepted, types.OutputTaskEnqueued{TaskID: taskInfo.ID, Type: types.QueueTypeReencrypt})
}

// Retire a key version
// @Security Bearer
// @Summary Drop a master key version once nothing references it
// @Tags Keys
// @Param version path int true "Key version"
// @Produce json
// @Router /api/v1/keys/{version}/retire [post]
func (ka *KeysApi) Retire(c *gin.Context) {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		ApiErrorf(c, http.StatusBadRequest, "invalid key version: %s", c.Param("version"))
		return
	}
	if rErr := ka.credentialService.RetireKey(version); rErr != nil {
		if rErr == types.ErrKeyInUse {
			ApiErrorf(c, http.StatusConflict, "key version %d still protects stored envelopes, run re-encryption first", version)
			return
		}
		ApiErrorf(c, http.StatusInternalServerError, "error while retiring key: %s", rErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retired": version})
}
