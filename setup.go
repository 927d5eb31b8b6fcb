package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"strconv"

	"github.com/tradewell/go-exchange-vault/global"
	"github.com/tradewell/go-exchange-vault/repository"
	"github.com/tradewell/go-exchange-vault/services"
	"github.com/tradewell/go-exchange-vault/types"
	"github.com/tradewell/go-exchange-vault/util"
)

// Configure DB Repositories and create DB Selector
func ConfigDBSelector() repository.DBSelector {
	repoUrl := global.Conf.CouchDB.Scheme + "://" + global.Conf.CouchDB.Host + ":" + strconv.Itoa(global.Conf.CouchDB.Port)
	credRepo, credRepoErr := repository.NewCouchDBRepository(repoUrl, repository.ExchangeCredentials, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	connectorRepo, connectorRepoErr := repository.NewCouchDBRepository(repoUrl, repository.Connectors, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	tradingKeyRepo, tradingKeyRepoErr := repository.NewCouchDBRepository(repoUrl, repository.TradingKeys, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)
	walletRepo, walletRepoErr := repository.NewCouchDBRepository(repoUrl, repository.BotWallets, global.Conf.CouchDB.Username, global.Conf.CouchDB.Password, false)

	repoErr := errors.Join(credRepoErr, connectorRepoErr, tradingKeyRepoErr, walletRepoErr)
	if repoErr != nil {
		global.Logger.Log("error", "Failed to create repositories", "error", repoErr.Error())
		panic(repoErr)
	}

	// REPOSITORY definitions
	dbSelector := repository.NewCouchDBSelector()
	dbSelector.AddDB(credRepo)
	dbSelector.AddDB(connectorRepo)
	dbSelector.AddDB(tradingKeyRepo)
	dbSelector.AddDB(walletRepo)

	return dbSelector
}

// Create the CouchDB indexes the resolver and migration queries rely on
func ConfigDBIndexing(dbSelector *repository.CouchDBSelector) {
	credRepo, credErr := dbSelector.ChooseDB(repository.ExchangeCredentials)
	if credErr != nil {
		panic(credErr)
	}
	if err := repository.CreateClientExchangeIndex(credRepo); err != nil {
		panic(err)
	}
	if err := repository.CreateKeyVersionIndex(credRepo); err != nil {
		panic(err)
	}
	for _, legacy := range []string{repository.Connectors, repository.TradingKeys} {
		legacyRepo, lErr := dbSelector.ChooseDB(legacy)
		if lErr != nil {
			panic(lErr)
		}
		if err := repository.CreateClientExchangeIndex(legacyRepo); err != nil {
			panic(err)
		}
	}
}

// ConfigVaultService assembles the key ring from the configured
// environment variables. Key material never touches the config file or
// the database; a missing variable is a startup failure, not a fallback.
func ConfigVaultService(conf *global.Config) *services.VaultService {
	if len(conf.Vault.MasterKeys) == 0 {
		panic("no master keys configured")
	}
	masterKeys := make([]types.MasterKey, 0, len(conf.Vault.MasterKeys))
	for _, entry := range conf.Vault.MasterKeys {
		encoded := os.Getenv(entry.Env)
		if encoded == "" {
			panic("master key environment variable not set: " + entry.Env)
		}
		key, err := util.DecodeMasterKey(encoded)
		if err != nil {
			panic("invalid master key in " + entry.Env + ": " + err.Error())
		}
		masterKeys = append(masterKeys, types.MasterKey{Version: entry.Version, Key: key})
	}
	ring, err := services.NewKeyRing(masterKeys)
	if err != nil {
		panic(err)
	}
	return services.NewVaultService(ring)
}

// ConfigDriftScan schedules the periodic drift scan over all wallet
// assignments
func ConfigDriftScan(conf *global.Config, env *types.Environment) {
	if !conf.DriftScan.Enabled {
		return
	}
	schedule := conf.DriftScan.Schedule
	if schedule == "" {
		schedule = "@every 6h"
	}
	env.Cron.AddFunc(schedule, func() {
		task, err := types.NewDriftScanTask(&types.DriftScanTask{RequestedBy: "scheduler"})
		if err != nil {
			global.Logger.Log("error", "failed to build drift scan task", "error", err.Error())
			return
		}
		if _, qErr := env.TaskClient.Enqueue(task); qErr != nil {
			global.Logger.Log("error", "failed to enqueue drift scan", "error", qErr.Error())
		}
	})
	env.Cron.Start()
}

// loads the ed25519 JWS signing keypair for the operator API
func loadServerEd25519Keys(conf global.Config) {
	serverKeysBytes, err := os.ReadFile(conf.Vault.ServerKeysPath)
	if err != nil {
		panic(err)
	}
	var serverKeysJson types.ServerKeys
	if jErr := json.Unmarshal(serverKeysBytes, &serverKeysJson); jErr != nil {
		panic(jErr)
	}
	decodedPrivBytes, err := base64.StdEncoding.DecodeString(serverKeysJson.PrivateKey)
	if err != nil {
		panic("failed to decode server private key: " + err.Error())
	}
	if len(decodedPrivBytes) != 64 {
		panic("server private key must be 64 bytes")
	}
	// the public key is the last 32 bytes of the private key
	global.PublicKey = decodedPrivBytes[32:]
	global.PrivateKey = decodedPrivBytes
}
