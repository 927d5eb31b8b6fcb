package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/services"
	"github.com/tradewell/go-exchange-vault/types"
)

const driftScanPageSize = 100

// CredentialQueue processes the background credential tasks: the
// re-encryption migration after a key rotation and the scheduled drift
// scan over all wallet assignments.
type CredentialQueue struct {
	credentialService *services.CredentialService
	resolverService   *services.ResolverService
	env               *types.Environment
}

func NewCredentialQueue(dbSelector repository.DBSelector, vault *services.VaultService, env *types.Environment) *CredentialQueue {
	credentialService := services.NewCredentialService(dbSelector, vault)
	resolverService := services.NewResolverService(dbSelector)

	return &CredentialQueue{
		credentialService: credentialService,
		resolverService:   resolverService,
		env:               env,
	}
}

// ProcessReencryptTask re-envelopes every credential still stored under
// the requested key version. Malformed payloads are not retried; a
// partial migration is, since re-running skips already migrated records.
func (cq *CredentialQueue) ProcessReencryptTask(ctx context.Context, t *asynq.Task) error {
	var task types.ReencryptTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if task.OldKeyVersion <= 0 {
		return fmt.Errorf("invalid key version %d: %w", task.OldKeyVersion, asynq.SkipRetry)
	}

	migrated, err := cq.credentialService.ReencryptKeyVersion(task.OldKeyVersion)
	if err != nil {
		level.Error(global.Logger).Log(
			"msg", "re-encryption migration failed",
			"oldKeyVersion", task.OldKeyVersion,
			"migrated", migrated,
			"err", err)
		return err
	}
	global.Logger.Log(
		"msg", "re-encryption migration finished",
		"oldKeyVersion", task.OldKeyVersion,
		"migrated", migrated,
		"requestedBy", task.RequestedBy)
	return nil
}

// ProcessDriftScanTask resolves every wallet assignment and reports any
// drifted or inconsistent credential. It only reads; healing stays an
// explicit operator action.
func (cq *CredentialQueue) ProcessDriftScanTask(ctx context.Context, t *asynq.Task) error {
	scanned := 0
	flagged := 0
	skip := 0
	for {
		wallets, err := cq.resolverService.ListWallets(driftScanPageSize, skip)
		if err != nil {
			return err
		}
		if len(wallets) == 0 {
			break
		}
		for _, wallet := range wallets {
			res, rErr := cq.resolverService.Resolve(wallet.ClientID, wallet.Exchange)
			if rErr != nil {
				level.Error(global.Logger).Log(
					"msg", "drift scan resolve failed",
					"clientId", wallet.ClientID,
					"exchange", wallet.Exchange,
					"err", rErr)
				continue
			}
			scanned++
			if res.State == types.ResolutionDrift || res.State == types.ResolutionInconsistent {
				flagged++
			}
		}
		skip += len(wallets)
		if len(wallets) < driftScanPageSize {
			break
		}
	}
	global.Logger.Log("msg", "drift scan finished", "scanned", scanned, "flagged", flagged)
	return nil
}
